package server

import (
	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/engine"
)

// Request payloads

type CreateSubmissionRequest struct {
	ID           *string           `json:"id,omitempty"`
	DecisionType string            `json:"decision_type"`
	Submitter    *string           `json:"submitter,omitempty"`
	Fields       map[string]string `json:"fields,omitempty"`
}

type CreateCaseRequest struct {
	ID           *string `json:"id,omitempty"`
	SubmissionID *string `json:"submission_id,omitempty"`
	DecisionType *string `json:"decision_type,omitempty"`
	Priority     *string `json:"priority,omitempty" enum:"low,normal,high,urgent"`
	DueAt        *string `json:"due_at,omitempty" format:"date-time"`
}

type UpdateStatusRequest struct {
	Status       string  `json:"status" enum:"new,in_review,needs_info,approved,blocked,closed"`
	ExpectedFrom *string `json:"expected_from,omitempty" enum:"new,in_review,needs_info,approved,blocked,closed"`
	Reason       *string `json:"reason,omitempty"`
}

type AssignRequest struct {
	AssigneeID string `json:"assignee_id"`
}

type AddNoteRequest struct {
	Text string `json:"text"`
}

type MakeDecisionRequest struct {
	Decision string         `json:"decision" enum:"approved,rejected"`
	Reason   *string        `json:"reason,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

type AttachEvidenceRequest struct {
	Filename    string  `json:"filename"`
	ContentType *string `json:"content_type,omitempty"`
	SHA256      *string `json:"sha256,omitempty"`
	SizeBytes   *int64  `json:"size_bytes,omitempty"`
	URI         *string `json:"uri,omitempty"`
}

type InfoResponseRequest struct {
	Fields  map[string]string `json:"fields,omitempty"`
	Message *string           `json:"message,omitempty"`
}

type LinkTraceRequest struct {
	DecisionTraceID string `json:"decision_trace_id"`
}

type CreateAPIKeyRequest struct {
	ActorName string  `json:"actor_name"`
	ActorRole string  `json:"actor_role"`
	Name      *string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorName   string   `json:"actor_name"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Response payloads

type CaseResponse struct {
	ID              string   `json:"id"`
	Status          string   `json:"status" enum:"new,in_review,needs_info,approved,blocked,closed"`
	Priority        string   `json:"priority" enum:"low,normal,high,urgent"`
	AssigneeID      *string  `json:"assignee_id,omitempty"`
	SubmissionID    *string  `json:"submission_id,omitempty"`
	DecisionType    string   `json:"decision_type"`
	DecisionTraceID *string  `json:"decision_trace_id,omitempty"`
	EvidenceIDs     []string `json:"evidence_ids"`
	Version         int64    `json:"version"`
	NextStatuses    []string `json:"next_statuses"`
	CreatedAt       string   `json:"created_at" format:"date-time"`
	UpdatedAt       string   `json:"updated_at" format:"date-time"`
	DueAt           *string  `json:"due_at,omitempty" format:"date-time"`
}

type EventResponse struct {
	ID        int64          `json:"id"`
	CaseID    string         `json:"case_id"`
	Type      string         `json:"type"`
	ActorRole string         `json:"actor_role"`
	ActorName string         `json:"actor_name"`
	Payload   map[string]any `json:"payload"`
	CreatedAt string         `json:"created_at" format:"date-time"`
}

type IntelligenceResponse struct {
	Snapshot domain.Snapshot `json:"snapshot"`
	Signals  []domain.Signal `json:"signals"`
}

type WhoAmIResponse struct {
	ActorName   string   `json:"actor_name"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	Source      string   `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorName string `json:"actor_name"`
	ActorRole string `json:"actor_role"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type WorkflowConfigResponse struct {
	WorkflowID    string              `json:"workflow_id"`
	DecisionTypes map[string][]string `json:"decision_types"`
	DefaultRole   string              `json:"default_role"`
	Roles         map[string][]string `json:"roles"`
}

type paginatedCases struct {
	Items      []CaseResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type eventList struct {
	Items []EventResponse `json:"items"`
}

// Conversion helpers

func caseResponse(c domain.Case) CaseResponse {
	next := []string{}
	for _, s := range engine.NextStatuses(c.Status) {
		next = append(next, string(s))
	}
	return CaseResponse{
		ID:              c.ID,
		Status:          string(c.Status),
		Priority:        string(c.Priority),
		AssigneeID:      c.AssigneeID,
		SubmissionID:    c.SubmissionID,
		DecisionType:    c.DecisionType,
		DecisionTraceID: c.DecisionTraceID,
		EvidenceIDs:     nonNilSlice(c.EvidenceIDs),
		Version:         c.Version,
		NextStatuses:    next,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
		DueAt:           c.DueAt,
	}
}

func mapCases(items []domain.Case) []CaseResponse {
	out := make([]CaseResponse, 0, len(items))
	for _, c := range items {
		out = append(out, caseResponse(c))
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return EventResponse{
		ID:        e.ID,
		CaseID:    e.CaseID,
		Type:      string(e.Type),
		ActorRole: e.ActorRole,
		ActorName: e.ActorName,
		Payload:   payload,
		CreatedAt: e.CreatedAt,
	}
}

func mapEvents(items []domain.Event) eventList {
	out := eventList{Items: make([]EventResponse, 0, len(items))}
	for _, e := range items {
		out.Items = append(out.Items, eventResponse(e))
	}
	return out
}

func configResponse(cfg *config.Config) WorkflowConfigResponse {
	res := WorkflowConfigResponse{
		WorkflowID:    cfg.Workflow.ID,
		DecisionTypes: map[string][]string{},
		DefaultRole:   cfg.Auth.DefaultRole,
		Roles:         map[string][]string{},
	}
	for name, dt := range cfg.DecisionTypes {
		res.DecisionTypes[name] = nonNilSlice(dt.ExpectedFields)
	}
	for _, name := range cfg.RoleNames() {
		res.Roles[name] = nonNilSlice(cfg.RBAC.Roles[name].Permissions)
	}
	return res
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
