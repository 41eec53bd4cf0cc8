package intel

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"caseline/internal/domain"
)

var at = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sig(t domain.SignalType, complete bool, strength float64) domain.Signal {
	return domain.Signal{Type: t, Complete: complete, Strength: strength}
}

func TestBandBoundaries(t *testing.T) {
	cases := map[float64]domain.ConfidenceBand{
		0:     domain.BandLow,
		39.99: domain.BandLow,
		40:    domain.BandMedium,
		74.99: domain.BandMedium,
		75:    domain.BandHigh,
		100:   domain.BandHigh,
	}
	for score, want := range cases {
		if got := BandFor(score); got != want {
			t.Fatalf("BandFor(%v) = %s, want %s", score, got, want)
		}
	}
}

func TestScoreAllComplete(t *testing.T) {
	sigs := []domain.Signal{
		sig(domain.SignalSubmissionPresent, true, 1),
		sig(domain.SignalSubmissionCompleteness, true, 1),
		sig(domain.SignalEvidencePresent, true, 1),
		sig(domain.SignalRequestInfoOpen, true, 0),
		sig(domain.SignalSubmitterResponded, true, 1),
		sig(domain.SignalExplainabilityAvailable, true, 1),
	}
	snap := Score("c1", sigs, at)
	require.Equal(t, 100.0, snap.Completeness)
	require.InDelta(t, 83.333, snap.Confidence, 0.01)
	require.Equal(t, domain.BandHigh, snap.Band)
	require.Empty(t, snap.Gaps)
	require.Equal(t, "High confidence with 0 gaps", snap.Narrative)
}

func TestScoreGapsKeepSignalOrder(t *testing.T) {
	sigs := []domain.Signal{
		sig(domain.SignalSubmissionPresent, true, 1),
		sig(domain.SignalSubmissionCompleteness, false, 0),
		sig(domain.SignalEvidencePresent, false, 0),
		sig(domain.SignalRequestInfoOpen, true, 0),
		sig(domain.SignalSubmitterResponded, false, 0),
		sig(domain.SignalExplainabilityAvailable, false, 0),
	}
	snap := Score("c1", sigs, at)
	require.InDelta(t, 33.333, snap.Completeness, 0.01)
	require.InDelta(t, 16.667, snap.Confidence, 0.01)
	require.Equal(t, domain.BandLow, snap.Band)
	want := []domain.SignalType{
		domain.SignalSubmissionCompleteness,
		domain.SignalEvidencePresent,
		domain.SignalSubmitterResponded,
		domain.SignalExplainabilityAvailable,
	}
	if diff := cmp.Diff(want, snap.Gaps); diff != "" {
		t.Fatalf("gaps mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, "Low confidence with 4 gaps: submission_completeness, evidence_present, submitter_responded, explainability_available", snap.Narrative)
}

func TestScorePartialStrengthRaisesConfidence(t *testing.T) {
	base := []domain.Signal{
		sig(domain.SignalSubmissionPresent, true, 1),
		sig(domain.SignalSubmissionCompleteness, false, 0.25),
		sig(domain.SignalEvidencePresent, true, 1),
		sig(domain.SignalRequestInfoOpen, true, 0),
		sig(domain.SignalSubmitterResponded, false, 0),
		sig(domain.SignalExplainabilityAvailable, false, 0),
	}
	snap := Score("c1", base, at)
	require.InDelta(t, 50.0, snap.Completeness, 0.001)
	require.InDelta(t, 37.5, snap.Confidence, 0.001)
	require.Equal(t, domain.BandLow, snap.Band)
	require.Equal(t, "Low confidence with 3 gaps: submission_completeness, submitter_responded, explainability_available", snap.Narrative)
}

func TestScoreIsDeterministic(t *testing.T) {
	sigs := []domain.Signal{
		sig(domain.SignalSubmissionPresent, true, 1),
		sig(domain.SignalSubmissionCompleteness, true, 0.75),
		sig(domain.SignalEvidencePresent, false, 0),
	}
	first := Score("c1", sigs, at)
	second := Score("c1", sigs, at.Add(time.Hour))
	first.ComputedAt, second.ComputedAt = "", ""
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("non-deterministic snapshot:\n%s", diff)
	}
}

func TestNarrativeSingleGap(t *testing.T) {
	require.Equal(t, "Medium confidence with 1 gap: evidence_present",
		Narrative(domain.BandMedium, []domain.SignalType{domain.SignalEvidencePresent}))
}

func TestScoreEmpty(t *testing.T) {
	snap := Score("c1", nil, at)
	require.Equal(t, 0.0, snap.Completeness)
	require.Equal(t, domain.BandLow, snap.Band)
}
