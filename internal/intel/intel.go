package intel

import (
	"fmt"
	"strings"
	"time"

	"github.com/montanaflynn/stats"

	"caseline/internal/domain"
)

// Band cut points on the 0-100 confidence scale. Lower bounds are inclusive.
const (
	MediumFloor = 40.0
	HighFloor   = 75.0
)

// BandFor maps a confidence score to its band.
func BandFor(confidence float64) domain.ConfidenceBand {
	switch {
	case confidence >= HighFloor:
		return domain.BandHigh
	case confidence >= MediumFloor:
		return domain.BandMedium
	default:
		return domain.BandLow
	}
}

// Score turns a signal set into a snapshot. Gaps keep the order of sigs.
func Score(caseID string, sigs []domain.Signal, at time.Time) domain.Snapshot {
	snap := domain.Snapshot{
		CaseID:     caseID,
		Gaps:       []domain.SignalType{},
		ComputedAt: domain.FormatTime(at),
	}
	if len(sigs) > 0 {
		strengths := make([]float64, 0, len(sigs))
		complete := 0
		for _, s := range sigs {
			strengths = append(strengths, s.Strength)
			if s.Complete {
				complete++
			} else {
				snap.Gaps = append(snap.Gaps, s.Type)
			}
		}
		snap.Completeness = 100 * float64(complete) / float64(len(sigs))
		// stats.Mean only fails on empty input, excluded above.
		mean, _ := stats.Mean(strengths)
		snap.Confidence = 100 * mean
	}
	snap.Band = BandFor(snap.Confidence)
	snap.Narrative = Narrative(snap.Band, snap.Gaps)
	return snap
}

// Narrative renders the one-line reviewer summary.
func Narrative(band domain.ConfidenceBand, gaps []domain.SignalType) string {
	label := strings.ToUpper(string(band[:1])) + string(band[1:])
	if len(gaps) == 0 {
		return fmt.Sprintf("%s confidence with 0 gaps", label)
	}
	names := make([]string, len(gaps))
	for i, g := range gaps {
		names[i] = string(g)
	}
	noun := "gaps"
	if len(gaps) == 1 {
		noun = "gap"
	}
	return fmt.Sprintf("%s confidence with %d %s: %s", label, len(gaps), noun, strings.Join(names, ", "))
}
