package engine

import "caseline/internal/domain"

// transitions is the case lifecycle graph. closed has no outgoing edges.
var transitions = map[domain.CaseStatus][]domain.CaseStatus{
	domain.StatusNew:       {domain.StatusInReview, domain.StatusBlocked, domain.StatusClosed},
	domain.StatusInReview:  {domain.StatusNeedsInfo, domain.StatusApproved, domain.StatusBlocked, domain.StatusClosed},
	domain.StatusNeedsInfo: {domain.StatusInReview, domain.StatusBlocked, domain.StatusClosed},
	domain.StatusBlocked:   {domain.StatusInReview, domain.StatusClosed},
	domain.StatusApproved:  {domain.StatusClosed},
	domain.StatusClosed:    nil,
}

// ValidTransition reports whether from -> to is an edge of the lifecycle
// graph. It is independent of who asks.
func ValidTransition(from, to domain.CaseStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the statuses reachable from status in one step.
func NextStatuses(status domain.CaseStatus) []domain.CaseStatus {
	return append([]domain.CaseStatus(nil), transitions[status]...)
}

// ValidateTransition is ValidTransition returning an error naming the edge.
func ValidateTransition(from, to domain.CaseStatus) error {
	if ValidTransition(from, to) {
		return nil
	}
	return &InvalidTransitionError{From: from, To: to}
}

// requiresOverride marks legal edges that the regular status path must not
// take on its own.
func requiresOverride(from, to domain.CaseStatus) bool {
	return from == domain.StatusApproved && to == domain.StatusClosed
}
