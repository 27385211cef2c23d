package domain

import (
	"errors"
	"testing"
)

func TestVerdictConstants(t *testing.T) {
	tests := []struct {
		name     string
		value    Verdict
		expected int8
		label    string
	}{
		{"Veto", VerdictVeto, -1, "reject"},
		{"Neutral", VerdictNeutral, 0, "abstain"},
		{"Approve", VerdictApprove, 1, "approve"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if int8(tt.value) != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, int8(tt.value))
			}
			if tt.value.String() != tt.label {
				t.Errorf("Expected label %s, got %s", tt.label, tt.value.String())
			}
			if !tt.value.IsValid() {
				t.Errorf("Expected %v to be valid", tt.value)
			}
		})
	}
}

func TestParseVerdict(t *testing.T) {
	for _, raw := range []int{-1, 0, 1} {
		v, err := ParseVerdict(raw)
		if err != nil {
			t.Fatalf("ParseVerdict(%d) returned error: %v", raw, err)
		}
		if int(v) != raw {
			t.Errorf("Expected %d, got %d", raw, v)
		}
	}

	for _, raw := range []int{-2, 2, 127} {
		if _, err := ParseVerdict(raw); !errors.Is(err, ErrInvalidVerdict) {
			t.Errorf("ParseVerdict(%d): expected ErrInvalidVerdict, got %v", raw, err)
		}
	}
}

func TestReviewStatus(t *testing.T) {
	if ReviewPending.IsTerminal() {
		t.Error("Pending must not be terminal")
	}
	if !ReviewCompleted.IsTerminal() {
		t.Error("Completed must be terminal")
	}
	if ReviewStatus("Draft").IsValid() {
		t.Error("Unknown status must be invalid")
	}
}

func TestTaskPriorityRank(t *testing.T) {
	if !(PriorityHigh.Rank() < PriorityNormal.Rank() && PriorityNormal.Rank() < PriorityLow.Rank()) {
		t.Error("Expected High < Normal < Low in rank order")
	}
	if TaskPriority("Urgent").IsValid() {
		t.Error("Unknown priority must be invalid")
	}
}

func TestPeerReviewRecordCurrentVerdict(t *testing.T) {
	pending := &PeerReviewRecord{Status: ReviewPending, ProposedVerdict: VerdictPtr(VerdictVeto)}
	if v := pending.CurrentVerdict(); v == nil || *v != VerdictVeto {
		t.Errorf("Pending record should report its draft verdict, got %v", v)
	}

	sealed := &PeerReviewRecord{
		Status:          ReviewCompleted,
		Verdict:         VerdictPtr(VerdictApprove),
		ProposedVerdict: VerdictPtr(VerdictVeto),
	}
	if v := sealed.CurrentVerdict(); v == nil || *v != VerdictApprove {
		t.Errorf("Sealed record should report its sealed verdict, got %v", v)
	}
	if !sealed.IsSealed() {
		t.Error("Expected sealed record to report IsSealed")
	}
}

func TestReviewTaskHasAssessment(t *testing.T) {
	general := &ReviewTask{SubjectID: "p-1", Status: TaskOpen}
	if general.HasAssessment() {
		t.Error("General task must not be assessment-eligible")
	}
	linked := &ReviewTask{SubjectID: "p-1", AssessmentID: "a-1", Status: TaskOpen}
	if !linked.HasAssessment() || !linked.IsOpen() {
		t.Error("Linked open task should expose its assessment")
	}
}
