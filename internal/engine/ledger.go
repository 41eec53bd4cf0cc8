package engine

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"

	"caseline/internal/domain"
	"caseline/internal/events"
	"caseline/internal/repo"
)

// timelineTypes are the events a reviewer sees. Derived markers stay in the
// ledger but not on the timeline.
var timelineTypes = []domain.EventType{
	domain.EventCaseCreated,
	domain.EventNote,
	domain.EventStatusChanged,
	domain.EventDecisionMade,
	domain.EventEvidenceAttached,
	domain.EventEvidenceRemoved,
	domain.EventRequestInfoCreated,
	domain.EventRequestInfoResubmitted,
	domain.EventCaseAssigned,
	domain.EventDecisionTraceLinked,
}

// AddNote appends a note and its note_added marker. Notes never touch the
// case row.
func (e Engine) AddNote(ctx context.Context, caseID string, actor domain.Actor, text string) (domain.Event, error) {
	if err := requireActor(actor); err != nil {
		return domain.Event{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Event{}, invalidInput("note text is required")
	}
	var note domain.Event
	err := e.inTx(ctx, "add note", func(tx *sql.Tx) error {
		if _, err := e.loadCase(ctx, tx, caseID); err != nil {
			return err
		}
		var err error
		note, err = e.ledger().Append(ctx, tx, caseID, domain.EventNote, actor, events.EventPayload{"text": text})
		if err != nil {
			return err
		}
		_, err = e.ledger().Append(ctx, tx, caseID, domain.EventNoteAdded, actor, events.EventPayload{"note_event_id": note.ID})
		return err
	})
	if err != nil {
		return domain.Event{}, err
	}
	return note, nil
}

// DecisionInput is a reviewer verdict on a case.
type DecisionInput struct {
	CaseID  string
	Value   domain.DecisionValue
	Reason  string
	Details map[string]any
	Actor   domain.Actor
}

// MakeDecision records a verdict and moves the case into the status it
// implies: approved to approved, rejected to blocked. The decision row, its
// events and the status change commit together. A case already in the
// implied status keeps it.
func (e Engine) MakeDecision(ctx context.Context, in DecisionInput) (domain.Decision, error) {
	if err := requireActor(in.Actor); err != nil {
		return domain.Decision{}, err
	}
	if !in.Value.Valid() {
		return domain.Decision{}, invalidInput("decision must be approved or rejected, got %q", in.Value)
	}
	target := in.Value.TargetStatus()
	d := domain.Decision{
		ID:          uuid.NewString(),
		CaseID:      in.CaseID,
		Value:       in.Value,
		Reason:      strings.TrimSpace(in.Reason),
		Details:     in.Details,
		DeciderRole: in.Actor.Role,
		DeciderName: in.Actor.Name,
		CreatedAt:   domain.FormatTime(e.now()),
	}
	err := e.inTx(ctx, "make decision", func(tx *sql.Tx) error {
		c, err := e.loadCase(ctx, tx, in.CaseID)
		if err != nil {
			return err
		}
		move := c.Status != target
		if move {
			if err := ValidateTransition(c.Status, target); err != nil {
				return err
			}
		}
		if err := e.Repo.InsertDecision(ctx, tx, d); err != nil {
			return err
		}
		payload := events.EventPayload{"decision_id": d.ID, "value": string(d.Value)}
		if d.Reason != "" {
			payload["reason"] = d.Reason
		}
		if _, err := e.ledger().Append(ctx, tx, c.ID, domain.EventDecisionMade, in.Actor, payload); err != nil {
			return err
		}
		if !move {
			return nil
		}
		_, err = e.applyStatus(ctx, tx, c, target, in.Actor, events.EventPayload{"reason": d.Reason, "decision_id": d.ID})
		return err
	})
	if err != nil {
		return domain.Decision{}, err
	}
	e.log().Info("decision recorded", "case_id", in.CaseID, "value", d.Value, "actor", in.Actor.Name)
	return d, nil
}

// Decisions returns the decision history of a case, oldest first.
func (e Engine) Decisions(ctx context.Context, caseID string) ([]domain.Decision, error) {
	if _, err := e.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	items, err := e.Repo.ListDecisions(ctx, caseID)
	return items, classify("list decisions", err)
}

// ListEvents returns the full ledger of a case in creation order.
func (e Engine) ListEvents(ctx context.Context, caseID string) ([]domain.Event, error) {
	if _, err := e.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	items, err := e.Repo.ListEvents(ctx, caseID)
	return items, classify("list events", err)
}

// Timeline returns the reviewer-facing history of a case, newest first.
func (e Engine) Timeline(ctx context.Context, caseID string) ([]domain.Event, error) {
	if _, err := e.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	items, err := e.Repo.Timeline(ctx, caseID, timelineTypes)
	return items, classify("timeline", err)
}

// EvidenceInput describes an evidence item to attach.
type EvidenceInput struct {
	CaseID      string
	Filename    string
	ContentType string
	SHA256      string
	SizeBytes   int64
	URI         string
	Actor       domain.Actor
}

func (e Engine) AttachEvidence(ctx context.Context, in EvidenceInput) (domain.Evidence, error) {
	if err := requireActor(in.Actor); err != nil {
		return domain.Evidence{}, err
	}
	if strings.TrimSpace(in.Filename) == "" {
		return domain.Evidence{}, invalidInput("filename is required")
	}
	if in.SizeBytes < 0 {
		return domain.Evidence{}, invalidInput("size_bytes must not be negative")
	}
	ev := domain.Evidence{
		ID:          uuid.NewString(),
		CaseID:      in.CaseID,
		Filename:    strings.TrimSpace(in.Filename),
		ContentType: in.ContentType,
		SHA256:      strings.ToLower(in.SHA256),
		SizeBytes:   in.SizeBytes,
		URI:         in.URI,
		AttachedBy:  in.Actor.Name,
		CreatedAt:   domain.FormatTime(e.now()),
	}
	err := e.inTx(ctx, "attach evidence", func(tx *sql.Tx) error {
		c, err := e.loadCase(ctx, tx, in.CaseID)
		if err != nil {
			return err
		}
		if c.Status == domain.StatusClosed {
			return ErrCaseClosed
		}
		if err := e.Repo.InsertEvidence(ctx, tx, ev); err != nil {
			return err
		}
		loaded := c
		c.EvidenceIDs = append(append([]string{}, c.EvidenceIDs...), ev.ID)
		if _, err := e.saveCase(ctx, tx, c, loaded); err != nil {
			return err
		}
		_, err = e.ledger().Append(ctx, tx, c.ID, domain.EventEvidenceAttached, in.Actor, events.EventPayload{
			"evidence_id": ev.ID,
			"filename":    ev.Filename,
			"sha256":      ev.SHA256,
		})
		return err
	})
	if err != nil {
		return domain.Evidence{}, err
	}
	return ev, nil
}

// RemoveEvidence soft-deletes an evidence item. The row is kept for audit.
func (e Engine) RemoveEvidence(ctx context.Context, caseID, evidenceID string, actor domain.Actor) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	return e.inTx(ctx, "remove evidence", func(tx *sql.Tx) error {
		c, err := e.loadCase(ctx, tx, caseID)
		if err != nil {
			return err
		}
		if c.Status == domain.StatusClosed {
			return ErrCaseClosed
		}
		err = e.Repo.SoftDeleteEvidence(ctx, tx, caseID, evidenceID, domain.FormatTime(e.now()))
		if errors.Is(err, repo.ErrNotFound) {
			return ErrEvidenceNotFound
		}
		if err != nil {
			return err
		}
		loaded := c
		kept := make([]string, 0, len(c.EvidenceIDs))
		for _, id := range c.EvidenceIDs {
			if id != evidenceID {
				kept = append(kept, id)
			}
		}
		c.EvidenceIDs = kept
		if _, err := e.saveCase(ctx, tx, c, loaded); err != nil {
			return err
		}
		_, err = e.ledger().Append(ctx, tx, c.ID, domain.EventEvidenceRemoved, actor, events.EventPayload{"evidence_id": evidenceID})
		return err
	})
}

func (e Engine) ListEvidence(ctx context.Context, caseID string) ([]domain.Evidence, error) {
	if _, err := e.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	items, err := e.Repo.ListEvidence(ctx, caseID)
	return items, classify("list evidence", err)
}

// InfoResponse is a submitter's answer to an open information request.
type InfoResponse struct {
	CaseID  string
	Fields  map[string]string
	Message string
	Actor   domain.Actor
}

// RespondToInfoRequest merges the supplied fields into the linked submission
// and records the resubmission. The case stays in needs_info until a reviewer
// moves it. Fields cannot be merged into a submission shared with other cases.
func (e Engine) RespondToInfoRequest(ctx context.Context, in InfoResponse) (domain.Event, error) {
	if err := requireActor(in.Actor); err != nil {
		return domain.Event{}, err
	}
	if len(in.Fields) == 0 && strings.TrimSpace(in.Message) == "" {
		return domain.Event{}, invalidInput("response needs fields or a message")
	}
	var evt domain.Event
	err := e.inTx(ctx, "respond to info request", func(tx *sql.Tx) error {
		c, err := e.loadCase(ctx, tx, in.CaseID)
		if err != nil {
			return err
		}
		if c.Status == domain.StatusClosed {
			return ErrCaseClosed
		}
		if c.Status != domain.StatusNeedsInfo {
			return ErrNoOpenInfoRequest
		}
		keys := make([]string, 0, len(in.Fields))
		for k := range in.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > 0 {
			if c.SubmissionID == nil {
				return invalidInput("case has no linked submission to update")
			}
			sub, err := e.Repo.GetSubmissionTx(ctx, tx, *c.SubmissionID)
			if errors.Is(err, repo.ErrNotFound) {
				return ErrSubmissionNotFound
			}
			if err != nil {
				return err
			}
			linked, err := e.Repo.CountCasesForSubmission(ctx, tx, sub.ID)
			if err != nil {
				return err
			}
			if linked > 1 {
				return ErrSharedSubmission
			}
			merged := map[string]string{}
			for k, v := range sub.Fields {
				merged[k] = v
			}
			for k, v := range in.Fields {
				merged[k] = v
			}
			if err := e.Repo.UpdateSubmissionFields(ctx, tx, sub.ID, merged, domain.FormatTime(e.now())); err != nil {
				return err
			}
		}
		payload := events.EventPayload{"fields": keys}
		if m := strings.TrimSpace(in.Message); m != "" {
			payload["message"] = m
		}
		evt, err = e.ledger().Append(ctx, tx, c.ID, domain.EventRequestInfoResubmitted, in.Actor, payload)
		return err
	})
	if err != nil {
		return domain.Event{}, err
	}
	return evt, nil
}

// LinkDecisionTrace records the explainability trace backing a case.
func (e Engine) LinkDecisionTrace(ctx context.Context, caseID, traceID string, actor domain.Actor) (domain.Case, error) {
	if err := requireActor(actor); err != nil {
		return domain.Case{}, err
	}
	traceID = strings.TrimSpace(traceID)
	if traceID == "" {
		return domain.Case{}, invalidInput("decision trace id is required")
	}
	var out domain.Case
	err := e.inTx(ctx, "link decision trace", func(tx *sql.Tx) error {
		c, err := e.loadCase(ctx, tx, caseID)
		if err != nil {
			return err
		}
		prev := ""
		if c.DecisionTraceID != nil {
			prev = *c.DecisionTraceID
		}
		loaded := c
		c.DecisionTraceID = &traceID
		if out, err = e.saveCase(ctx, tx, c, loaded); err != nil {
			return err
		}
		_, err = e.ledger().Append(ctx, tx, c.ID, domain.EventDecisionTraceLinked, actor, events.EventPayload{
			"decision_trace_id": traceID,
			"previous":          prev,
		})
		return err
	})
	if err != nil {
		return domain.Case{}, err
	}
	return out, nil
}
