// Package signals derives the fixed set of completeness signals for a case
// from its stored artifacts.
//
// Derivation is a pure function of the artifacts and the expected-field
// catalog. The only time-dependent value on a signal is its CreatedAt stamp.
package signals

import (
	"context"
	"sort"
	"strings"
	"time"

	"caseline/internal/domain"
)

// Source categories, one per signal.
const (
	SourceSubmissionLink  = "submission-link"
	SourceSubmissionForm  = "submission-form"
	SourceEvidenceStorage = "evidence-storage"
	SourceCaseStatus      = "case-status"
	SourceCaseEvents      = "case-events"
	SourceDecisionTrace   = "decision-trace"
)

// CompletenessThreshold is the filled ratio of expected fields at which a
// submission form counts as complete.
const CompletenessThreshold = 0.5

// Order is the fixed signal order. Every Derive result follows it.
var Order = []domain.SignalType{
	domain.SignalSubmissionPresent,
	domain.SignalSubmissionCompleteness,
	domain.SignalEvidencePresent,
	domain.SignalRequestInfoOpen,
	domain.SignalSubmitterResponded,
	domain.SignalExplainabilityAvailable,
}

var sources = map[domain.SignalType]string{
	domain.SignalSubmissionPresent:       SourceSubmissionLink,
	domain.SignalSubmissionCompleteness:  SourceSubmissionForm,
	domain.SignalEvidencePresent:         SourceEvidenceStorage,
	domain.SignalRequestInfoOpen:         SourceCaseStatus,
	domain.SignalSubmitterResponded:      SourceCaseEvents,
	domain.SignalExplainabilityAvailable: SourceDecisionTrace,
}

// SourceOf returns the source category of a signal type.
func SourceOf(t domain.SignalType) string {
	return sources[t]
}

// Artifacts is everything signal derivation looks at for one case.
type Artifacts struct {
	Case domain.Case
	// Submission is nil when the case has no linked submission or the linked
	// row is gone.
	Submission        *domain.Submission
	EvidenceCount     int
	InfoRequests      int
	InfoResubmissions int
}

// Source loads artifacts for a case. It returns an error only when the case
// itself cannot be loaded.
type Source interface {
	LoadArtifacts(ctx context.Context, caseID string) (Artifacts, error)
}

// FieldCatalog maps a decision type to its expected submission fields.
type FieldCatalog interface {
	ExpectedFields(decisionType string) ([]string, bool)
}

type Generator struct {
	Source  Source
	Catalog FieldCatalog
	Now     func() time.Time
}

// Generate loads the case artifacts and derives its signals. It has no side
// effects; persisting the result is the caller's job.
func (g Generator) Generate(ctx context.Context, caseID string) ([]domain.Signal, error) {
	a, err := g.Source.LoadArtifacts(ctx, caseID)
	if err != nil {
		return nil, err
	}
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	return Derive(a, g.expected(a.Case.DecisionType), now()), nil
}

func (g Generator) expected(decisionType string) []string {
	if g.Catalog == nil {
		return nil
	}
	fields, ok := g.Catalog.ExpectedFields(decisionType)
	if !ok {
		return nil
	}
	return fields
}

// Derive computes the six signals in Order. An empty expected list means the
// decision type is unknown and any non-empty form field counts as complete.
func Derive(a Artifacts, expected []string, at time.Time) []domain.Signal {
	ts := domain.FormatTime(at)
	mk := func(t domain.SignalType, complete bool, strength float64, meta map[string]any) domain.Signal {
		return domain.Signal{
			CaseID:       a.Case.ID,
			DecisionType: a.Case.DecisionType,
			Type:         t,
			Source:       sources[t],
			Strength:     strength,
			Complete:     complete,
			Metadata:     meta,
			CreatedAt:    ts,
		}
	}
	out := make([]domain.Signal, 0, len(Order))

	present := a.Submission != nil
	subID := ""
	if present {
		subID = a.Submission.ID
	}
	out = append(out, mk(domain.SignalSubmissionPresent, present, boolStrength(present), map[string]any{
		"linked":        a.Case.SubmissionID != nil,
		"submission_id": subID,
	}))

	complete, ratio, meta := formCompleteness(a.Submission, expected)
	out = append(out, mk(domain.SignalSubmissionCompleteness, complete, ratio, meta))

	hasEvidence := a.EvidenceCount > 0
	out = append(out, mk(domain.SignalEvidencePresent, hasEvidence, boolStrength(hasEvidence), map[string]any{
		"evidence_count": a.EvidenceCount,
	}))

	open := a.Case.Status == domain.StatusNeedsInfo
	out = append(out, mk(domain.SignalRequestInfoOpen, !open, boolStrength(open), map[string]any{
		"open":             open,
		"status":           string(a.Case.Status),
		"requests_created": a.InfoRequests,
	}))

	responded := a.InfoResubmissions > 0
	out = append(out, mk(domain.SignalSubmitterResponded, responded, boolStrength(responded), map[string]any{
		"resubmissions": a.InfoResubmissions,
	}))

	traceID := ""
	if a.Case.DecisionTraceID != nil {
		traceID = strings.TrimSpace(*a.Case.DecisionTraceID)
	}
	hasTrace := traceID != ""
	out = append(out, mk(domain.SignalExplainabilityAvailable, hasTrace, boolStrength(hasTrace), map[string]any{
		"decision_trace_id": traceID,
	}))
	return out
}

func formCompleteness(sub *domain.Submission, expected []string) (bool, float64, map[string]any) {
	if sub == nil {
		return false, 0, map[string]any{"rule": "no_submission"}
	}
	if len(expected) == 0 {
		filled := filledKeys(sub.Fields)
		ok := len(filled) > 0
		return ok, boolStrength(ok), map[string]any{
			"rule":          "any_non_empty",
			"filled_fields": filled,
		}
	}
	filled := []string{}
	missing := []string{}
	for _, f := range expected {
		if strings.TrimSpace(sub.Fields[f]) != "" {
			filled = append(filled, f)
		} else {
			missing = append(missing, f)
		}
	}
	ratio := float64(len(filled)) / float64(len(expected))
	return ratio >= CompletenessThreshold, ratio, map[string]any{
		"rule":            "expected_fields",
		"expected_fields": append([]string(nil), expected...),
		"filled_fields":   filled,
		"missing_fields":  missing,
		"ratio":           ratio,
	}
}

func filledKeys(fields map[string]string) []string {
	keys := []string{}
	for k, v := range fields {
		if strings.TrimSpace(v) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func boolStrength(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
