package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/triage-review-server/internal/domain"
)

// ClinicianDirectory resolves referral slugs to clinician IDs. Lookups are
// cached; unknown, inactive or empty slugs resolve to the default clinician.
type ClinicianDirectory struct {
	store            domain.ClinicianStore
	cache            *lru.Cache[string, string]
	defaultClinician string
	logger           *logrus.Logger
}

// NewClinicianDirectory creates a directory with an LRU cache of cacheSize entries
func NewClinicianDirectory(store domain.ClinicianStore, defaultClinician string, cacheSize int, logger *logrus.Logger) (*ClinicianDirectory, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create clinician cache: %w", err)
	}
	return &ClinicianDirectory{
		store:            store,
		cache:            cache,
		defaultClinician: defaultClinician,
		logger:           logger,
	}, nil
}

// Resolve returns the clinician ID for slug.
func (d *ClinicianDirectory) Resolve(ctx context.Context, slug string) (string, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return d.defaultClinician, nil
	}

	if id, ok := d.cache.Get(slug); ok {
		return id, nil
	}

	clinician, err := d.store.GetClinicianBySlug(ctx, slug)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		d.logger.WithField("slug", slug).Debug("Unknown referral slug, routing to default clinician")
		return d.defaultClinician, nil
	case err != nil:
		return "", fmt.Errorf("failed to resolve clinician slug %q: %w", slug, err)
	case !clinician.Active:
		d.logger.WithField("clinician_id", clinician.ID).Debug("Referral clinician inactive, routing to default clinician")
		return d.defaultClinician, nil
	}

	d.cache.Add(slug, clinician.ID)
	return clinician.ID, nil
}

// Forget drops a cached slug, e.g. after the clinician was deactivated.
func (d *ClinicianDirectory) Forget(slug string) {
	d.cache.Remove(strings.ToLower(strings.TrimSpace(slug)))
}
