package domain

import "time"

// TimeLayout is the fixed-width UTC layout used for every stored timestamp so
// that lexical order matches chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

type CaseStatus string

const (
	StatusNew       CaseStatus = "new"
	StatusInReview  CaseStatus = "in_review"
	StatusNeedsInfo CaseStatus = "needs_info"
	StatusApproved  CaseStatus = "approved"
	StatusBlocked   CaseStatus = "blocked"
	StatusClosed    CaseStatus = "closed"
)

// Statuses lists every case status in lifecycle order.
var Statuses = []CaseStatus{StatusNew, StatusInReview, StatusNeedsInfo, StatusApproved, StatusBlocked, StatusClosed}

func (s CaseStatus) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// RequiresAssignee reports whether a case in this status must have an assignee.
func (s CaseStatus) RequiresAssignee() bool {
	return s == StatusInReview || s == StatusNeedsInfo
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type Case struct {
	ID              string     `json:"id"`
	Status          CaseStatus `json:"status" enum:"new,in_review,needs_info,approved,blocked,closed"`
	Priority        Priority   `json:"priority" enum:"low,normal,high,urgent"`
	AssigneeID      *string    `json:"assignee_id,omitempty"`
	SubmissionID    *string    `json:"submission_id,omitempty"`
	DecisionType    string     `json:"decision_type,omitempty"`
	DecisionTraceID *string    `json:"decision_trace_id,omitempty"`
	EvidenceIDs     []string   `json:"evidence_ids"`
	Version         int64      `json:"version"`
	CreatedAt       string     `json:"created_at" format:"date-time"`
	UpdatedAt       string     `json:"updated_at" format:"date-time"`
	DueAt           *string    `json:"due_at,omitempty" format:"date-time"`
}

// Actor identifies who performed an operation. The role is always explicit;
// defaults are resolved before reaching the engine.
type Actor struct {
	Role string `json:"role"`
	Name string `json:"name"`
}

type EventType string

const (
	EventCaseCreated                 EventType = "case_created"
	EventNote                        EventType = "note"
	EventNoteAdded                   EventType = "note_added"
	EventStatusChanged               EventType = "status_changed"
	EventDecisionMade                EventType = "decision_made"
	EventEvidenceAttached            EventType = "evidence_attached"
	EventEvidenceRemoved             EventType = "evidence_removed"
	EventRequestInfoCreated          EventType = "request_info_created"
	EventRequestInfoResubmitted      EventType = "request_info_resubmitted"
	EventCaseAssigned                EventType = "case_assigned"
	EventDecisionTraceLinked         EventType = "decision_trace_linked"
	EventDecisionIntelligenceUpdated EventType = "decision_intelligence_updated"
)

type Event struct {
	ID        int64          `json:"id"`
	CaseID    string         `json:"case_id"`
	Type      EventType      `json:"type"`
	ActorRole string         `json:"actor_role"`
	ActorName string         `json:"actor_name"`
	Payload   map[string]any `json:"payload"`
	CreatedAt string         `json:"created_at" format:"date-time"`
}

type DecisionValue string

const (
	DecisionApproved DecisionValue = "approved"
	DecisionRejected DecisionValue = "rejected"
)

func (v DecisionValue) Valid() bool {
	return v == DecisionApproved || v == DecisionRejected
}

// TargetStatus is the case status a decision moves the case into.
func (v DecisionValue) TargetStatus() CaseStatus {
	if v == DecisionApproved {
		return StatusApproved
	}
	return StatusBlocked
}

type Decision struct {
	ID          string         `json:"id"`
	CaseID      string         `json:"case_id"`
	Value       DecisionValue  `json:"value" enum:"approved,rejected"`
	Reason      string         `json:"reason"`
	Details     map[string]any `json:"details,omitempty"`
	DeciderRole string         `json:"decider_role"`
	DeciderName string         `json:"decider_name"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
}

type Submission struct {
	ID           string            `json:"id"`
	DecisionType string            `json:"decision_type"`
	Submitter    string            `json:"submitter"`
	Fields       map[string]string `json:"fields"`
	CreatedAt    string            `json:"created_at" format:"date-time"`
	UpdatedAt    string            `json:"updated_at" format:"date-time"`
}

type Evidence struct {
	ID          string  `json:"id"`
	CaseID      string  `json:"case_id"`
	Filename    string  `json:"filename"`
	ContentType string  `json:"content_type,omitempty"`
	SHA256      string  `json:"sha256,omitempty"`
	SizeBytes   int64   `json:"size_bytes"`
	URI         string  `json:"uri,omitempty"`
	AttachedBy  string  `json:"attached_by"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	DeletedAt   *string `json:"deleted_at,omitempty" format:"date-time"`
}

type SignalType string

const (
	SignalSubmissionPresent       SignalType = "submission_present"
	SignalSubmissionCompleteness  SignalType = "submission_completeness"
	SignalEvidencePresent         SignalType = "evidence_present"
	SignalRequestInfoOpen         SignalType = "request_info_open"
	SignalSubmitterResponded      SignalType = "submitter_responded"
	SignalExplainabilityAvailable SignalType = "explainability_available"
)

type Signal struct {
	CaseID       string         `json:"case_id"`
	DecisionType string         `json:"decision_type"`
	Type         SignalType     `json:"type"`
	Source       string         `json:"source"`
	Strength     float64        `json:"strength"`
	Complete     bool           `json:"complete"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    string         `json:"created_at" format:"date-time"`
}

type ConfidenceBand string

const (
	BandLow    ConfidenceBand = "low"
	BandMedium ConfidenceBand = "medium"
	BandHigh   ConfidenceBand = "high"
)

type Snapshot struct {
	CaseID       string         `json:"case_id"`
	Completeness float64        `json:"completeness"`
	Confidence   float64        `json:"confidence"`
	Band         ConfidenceBand `json:"band" enum:"low,medium,high"`
	Gaps         []SignalType   `json:"gaps"`
	Narrative    string         `json:"narrative"`
	ComputedAt   string         `json:"computed_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorName string `json:"actor_name"`
	ActorRole string `json:"actor_role"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
