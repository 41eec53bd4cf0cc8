package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"caseline/internal/domain"
	"caseline/internal/engine/auth"
	"caseline/internal/events"
	"caseline/internal/repo"
)

// SubmissionCreateOptions are parameters for recording a submission.
type SubmissionCreateOptions struct {
	ID           string
	DecisionType string
	Submitter    string
	Fields       map[string]string
}

func (e Engine) CreateSubmission(ctx context.Context, opts SubmissionCreateOptions) (domain.Submission, error) {
	if strings.TrimSpace(opts.Submitter) == "" {
		return domain.Submission{}, invalidInput("submitter is required")
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := domain.FormatTime(e.now())
	fields := map[string]string{}
	for k, v := range opts.Fields {
		fields[k] = v
	}
	s := domain.Submission{
		ID:           id,
		DecisionType: opts.DecisionType,
		Submitter:    opts.Submitter,
		Fields:       fields,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := e.inTx(ctx, "create submission", func(tx *sql.Tx) error {
		return e.Repo.InsertSubmission(ctx, tx, s)
	})
	if err != nil {
		return domain.Submission{}, err
	}
	return s, nil
}

func (e Engine) GetSubmission(ctx context.Context, id string) (domain.Submission, error) {
	s, err := e.Repo.GetSubmission(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return s, ErrSubmissionNotFound
	}
	return s, classify("get submission", err)
}

// CaseCreateOptions are parameters for opening a case.
type CaseCreateOptions struct {
	ID           string
	SubmissionID string
	DecisionType string
	Priority     domain.Priority
	DueAt        string
	Actor        domain.Actor
}

// CreateCase opens a case in status new, optionally linked to a submission.
// The decision type defaults to the submission's and may stay empty.
func (e Engine) CreateCase(ctx context.Context, opts CaseCreateOptions) (domain.Case, error) {
	if err := requireActor(opts.Actor); err != nil {
		return domain.Case{}, err
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityNormal
	}
	if !opts.Priority.Valid() {
		return domain.Case{}, invalidInput("unknown priority %q", opts.Priority)
	}
	var due *string
	if opts.DueAt != "" {
		t, err := time.Parse(time.RFC3339, opts.DueAt)
		if err != nil {
			return domain.Case{}, invalidInput("due_at must be RFC3339: %v", err)
		}
		s := domain.FormatTime(t)
		due = &s
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := domain.FormatTime(e.now())
	c := domain.Case{
		ID:           id,
		Status:       domain.StatusNew,
		Priority:     opts.Priority,
		SubmissionID: optionalString(opts.SubmissionID),
		DecisionType: opts.DecisionType,
		EvidenceIDs:  []string{},
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
		DueAt:        due,
	}
	err := e.inTx(ctx, "create case", func(tx *sql.Tx) error {
		if opts.SubmissionID != "" {
			sub, err := e.Repo.GetSubmissionTx(ctx, tx, opts.SubmissionID)
			if errors.Is(err, repo.ErrNotFound) {
				return ErrSubmissionNotFound
			}
			if err != nil {
				return err
			}
			if c.DecisionType == "" {
				c.DecisionType = sub.DecisionType
			}
		}
		if err := e.Repo.InsertCase(ctx, tx, c); err != nil {
			return err
		}
		_, err := e.ledger().Append(ctx, tx, c.ID, domain.EventCaseCreated, opts.Actor, events.EventPayload{
			"status":        string(c.Status),
			"priority":      string(c.Priority),
			"submission_id": opts.SubmissionID,
			"decision_type": c.DecisionType,
		})
		return err
	})
	if err != nil {
		return domain.Case{}, err
	}
	e.log().Info("case created", "case_id", c.ID, "decision_type", c.DecisionType, "actor", opts.Actor.Name)
	return c, nil
}

func (e Engine) GetCase(ctx context.Context, id string) (domain.Case, error) {
	c, err := e.Repo.GetCase(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return c, ErrCaseNotFound
	}
	return c, classify("get case", err)
}

func (e Engine) ListCases(ctx context.Context, f repo.CaseFilters) ([]domain.Case, error) {
	if f.Status != "" && !domain.CaseStatus(f.Status).Valid() {
		return nil, invalidInput("unknown status %q", f.Status)
	}
	items, err := e.Repo.ListCases(ctx, f)
	return items, classify("list cases", err)
}

// CaseStats counts cases per status. Every status is present, zero or not.
func (e Engine) CaseStats(ctx context.Context) (map[domain.CaseStatus]int, error) {
	counts, err := e.Repo.CountCasesByStatus(ctx)
	if err != nil {
		return nil, classify("case stats", err)
	}
	out := make(map[domain.CaseStatus]int, len(domain.Statuses))
	for _, s := range domain.Statuses {
		out[s] = counts[s]
	}
	return out, nil
}

// StatusChange requests a case status change. ExpectedFrom, when set, is the
// status the caller last saw; the change is rejected if the case moved since.
type StatusChange struct {
	CaseID       string
	To           domain.CaseStatus
	ExpectedFrom domain.CaseStatus
	Reason       string
	Actor        domain.Actor
}

// UpdateCaseStatus moves a case along a lifecycle edge. The status update and
// its ledger events commit together.
func (e Engine) UpdateCaseStatus(ctx context.Context, req StatusChange) (domain.Case, error) {
	if err := requireActor(req.Actor); err != nil {
		return domain.Case{}, err
	}
	if !req.To.Valid() {
		return domain.Case{}, invalidInput("unknown status %q", req.To)
	}
	if req.ExpectedFrom != "" && !req.ExpectedFrom.Valid() {
		return domain.Case{}, invalidInput("unknown status %q", req.ExpectedFrom)
	}
	var out domain.Case
	err := e.inTx(ctx, "update case status", func(tx *sql.Tx) error {
		c, err := e.loadCase(ctx, tx, req.CaseID)
		if err != nil {
			return err
		}
		if req.ExpectedFrom != "" && req.ExpectedFrom != c.Status {
			return &InvalidTransitionError{From: req.ExpectedFrom, To: req.To, Current: c.Status, Stale: true}
		}
		if err := ValidateTransition(c.Status, req.To); err != nil {
			return err
		}
		if requiresOverride(c.Status, req.To) {
			if err := e.Policy.Require(req.Actor, auth.PermCaseOverride); err != nil {
				return err
			}
		}
		out, err = e.applyStatus(ctx, tx, c, req.To, req.Actor, events.EventPayload{"reason": req.Reason})
		return err
	})
	if err != nil {
		return domain.Case{}, err
	}
	return out, nil
}

// OverrideStatus forces a case into any other status without consulting the
// lifecycle graph. It requires the override permission and a reason.
func (e Engine) OverrideStatus(ctx context.Context, req StatusChange) (domain.Case, error) {
	if err := requireActor(req.Actor); err != nil {
		return domain.Case{}, err
	}
	if err := e.Policy.Require(req.Actor, auth.PermCaseOverride); err != nil {
		return domain.Case{}, err
	}
	if !req.To.Valid() {
		return domain.Case{}, invalidInput("unknown status %q", req.To)
	}
	if strings.TrimSpace(req.Reason) == "" {
		return domain.Case{}, invalidInput("override reason is required")
	}
	var out domain.Case
	err := e.inTx(ctx, "override case status", func(tx *sql.Tx) error {
		c, err := e.loadCase(ctx, tx, req.CaseID)
		if err != nil {
			return err
		}
		if req.ExpectedFrom != "" && req.ExpectedFrom != c.Status {
			return &InvalidTransitionError{From: req.ExpectedFrom, To: req.To, Current: c.Status, Stale: true}
		}
		if c.Status == req.To {
			return invalidInput("case is already %s", c.Status)
		}
		out, err = e.applyStatus(ctx, tx, c, req.To, req.Actor, events.EventPayload{"reason": req.Reason, "override": true})
		return err
	})
	if err != nil {
		return domain.Case{}, err
	}
	e.log().Warn("case status overridden", "case_id", out.ID, "to", out.Status, "actor", req.Actor.Name, "reason", req.Reason)
	return out, nil
}

// applyStatus writes the new status and its paired events. Callers have
// already decided the move is allowed.
func (e Engine) applyStatus(ctx context.Context, tx *sql.Tx, c domain.Case, to domain.CaseStatus, actor domain.Actor, extra events.EventPayload) (domain.Case, error) {
	loaded := c
	from := c.Status
	c.Status = to
	autoAssigned := false
	if to.RequiresAssignee() && c.AssigneeID == nil {
		name := actor.Name
		c.AssigneeID = &name
		autoAssigned = true
	}
	saved, err := e.saveCase(ctx, tx, c, loaded)
	if err != nil {
		return c, err
	}
	payload := events.EventPayload{"from": string(from), "to": string(to)}
	for k, v := range extra {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		payload[k] = v
	}
	if _, err := e.ledger().Append(ctx, tx, c.ID, domain.EventStatusChanged, actor, payload); err != nil {
		return c, err
	}
	if autoAssigned {
		if _, err := e.ledger().Append(ctx, tx, c.ID, domain.EventCaseAssigned, actor, events.EventPayload{
			"from": "", "to": *c.AssigneeID, "auto": true,
		}); err != nil {
			return c, err
		}
	}
	if to == domain.StatusNeedsInfo {
		reqPayload := events.EventPayload{}
		if r, ok := extra["reason"].(string); ok && r != "" {
			reqPayload["reason"] = r
		}
		if _, err := e.ledger().Append(ctx, tx, c.ID, domain.EventRequestInfoCreated, actor, reqPayload); err != nil {
			return c, err
		}
	}
	e.log().Info("case status changed", "case_id", c.ID, "from", from, "to", to, "actor", actor.Name, "role", actor.Role)
	return saved, nil
}

// AssignCase sets or clears the assignee. Cases under review cannot be left
// unassigned.
func (e Engine) AssignCase(ctx context.Context, caseID, assignee string, actor domain.Actor) (domain.Case, error) {
	if err := requireActor(actor); err != nil {
		return domain.Case{}, err
	}
	assignee = strings.TrimSpace(assignee)
	var out domain.Case
	err := e.inTx(ctx, "assign case", func(tx *sql.Tx) error {
		c, err := e.loadCase(ctx, tx, caseID)
		if err != nil {
			return err
		}
		if assignee == "" && c.Status.RequiresAssignee() {
			return invalidInput("case in status %s requires an assignee", c.Status)
		}
		prev := ""
		if c.AssigneeID != nil {
			prev = *c.AssigneeID
		}
		if prev == assignee {
			out = c
			return nil
		}
		loaded := c
		c.AssigneeID = optionalString(assignee)
		if out, err = e.saveCase(ctx, tx, c, loaded); err != nil {
			return err
		}
		_, err = e.ledger().Append(ctx, tx, c.ID, domain.EventCaseAssigned, actor, events.EventPayload{"from": prev, "to": assignee})
		return err
	})
	if err != nil {
		return domain.Case{}, err
	}
	return out, nil
}

// ResetCase is the administrative purge: the case and every row that hangs
// off it, ledger included, are deleted.
func (e Engine) ResetCase(ctx context.Context, caseID string, actor domain.Actor) error {
	if err := e.Policy.Require(actor, auth.PermCaseReset); err != nil {
		return err
	}
	err := e.inTx(ctx, "reset case", func(tx *sql.Tx) error {
		err := e.Repo.DeleteCase(ctx, tx, caseID)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrCaseNotFound
		}
		return err
	})
	if err != nil {
		return err
	}
	e.log().Warn("case reset", "case_id", caseID, "actor", actor.Name, "role", actor.Role)
	return nil
}
