// Package archive writes sealed peer reviews to S3-compatible object storage
// as immutable JSON documents.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"github.com/triage-review-server/internal/audit"
	"github.com/triage-review-server/internal/domain"
	"github.com/triage-review-server/internal/events"
)

const trailLimit = 500

// objectPutter is the subset of the S3 client the archiver needs
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Document is the archived form of a sealed review
type Document struct {
	Sealed     events.ReviewSealed      `json:"sealed"`
	Record     *domain.PeerReviewRecord `json:"record"`
	Trail      []*audit.Entry           `json:"trail,omitempty"`
	ArchivedAt time.Time                `json:"archived_at"`
}

// S3Archiver implements domain.ReviewObserver by uploading each sealed record
type S3Archiver struct {
	client objectPutter
	bucket string
	prefix string
	trail  audit.Store
	log    *logrus.Logger
}

// NewS3Client builds an S3 client from the default AWS credential chain.
// A non-empty endpoint targets an S3-compatible store with path-style addressing.
func NewS3Client(ctx context.Context, cfg domain.ArchiveConfig) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// NewS3Archiver creates an archiver. trail may be nil, in which case documents
// carry no audit entries.
func NewS3Archiver(client objectPutter, cfg domain.ArchiveConfig, trail audit.Store, logger *logrus.Logger) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	return &S3Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		trail:  trail,
		log:    logger,
	}, nil
}

// ObjectKey returns the key a sealed record is stored under
func (a *S3Archiver) ObjectKey(record *domain.PeerReviewRecord) string {
	sealedAt := time.Now().UTC()
	if record.SealedAt != nil {
		sealedAt = record.SealedAt.UTC()
	}
	return path.Join(a.prefix, "peer-reviews", sealedAt.Format("2006/01/02"), record.ID+".json")
}

// ReviewSealed implements domain.ReviewObserver
func (a *S3Archiver) ReviewSealed(ctx context.Context, record *domain.PeerReviewRecord) error {
	doc := Document{
		Sealed:     events.NewReviewSealed(record),
		Record:     record,
		ArchivedAt: time.Now().UTC(),
	}
	if a.trail != nil {
		entries, err := a.trail.ListBySubject(ctx, record.ID, trailLimit)
		if err != nil {
			a.log.WithError(err).WithField("record_id", record.ID).Warn("Archiving without audit trail")
		} else {
			doc.Trail = entries
		}
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling archive document: %w", err)
	}

	key := a.ObjectKey(record)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		ACL:         types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return fmt.Errorf("uploading %s to s3://%s: %w", key, a.bucket, err)
	}

	a.log.WithFields(logrus.Fields{
		"record_id": record.ID,
		"bucket":    a.bucket,
		"key":       key,
	}).Info("Sealed review archived")
	return nil
}
