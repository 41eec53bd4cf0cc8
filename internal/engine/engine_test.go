package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/engine/auth"
	"caseline/internal/migrate"
)

var (
	reviewer = domain.Actor{Role: "reviewer", Name: "rita"}
	verifier = domain.Actor{Role: "verifier", Name: "vic"}
	admin    = domain.Actor{Role: "admin", Name: "ada"}
	sam      = domain.Actor{Role: "submitter", Name: "sam"}
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("wf-1"))
	var mu sync.Mutex
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Millisecond)
		return clock
	}
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) newCase(t *testing.T, fields map[string]string) domain.Case {
	t.Helper()
	sub, err := env.Engine.CreateSubmission(env.Ctx, engine.SubmissionCreateOptions{
		DecisionType: "export_license",
		Submitter:    sam.Name,
		Fields:       fields,
	})
	if err != nil {
		t.Fatalf("create submission: %v", err)
	}
	c, err := env.Engine.CreateCase(env.Ctx, engine.CaseCreateOptions{SubmissionID: sub.ID, Actor: sam})
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	return c
}

func (env testEnv) move(t *testing.T, caseID string, to domain.CaseStatus, actor domain.Actor) domain.Case {
	t.Helper()
	c, err := env.Engine.UpdateCaseStatus(env.Ctx, engine.StatusChange{CaseID: caseID, To: to, Actor: actor})
	if err != nil {
		t.Fatalf("move to %s: %v", to, err)
	}
	return c
}

func (env testEnv) eventTypes(t *testing.T, caseID string) []domain.EventType {
	t.Helper()
	evts, err := env.Engine.ListEvents(env.Ctx, caseID)
	require.NoError(t, err)
	out := make([]domain.EventType, len(evts))
	for i, e := range evts {
		out[i] = e.Type
	}
	return out
}

func countType(types []domain.EventType, want domain.EventType) int {
	n := 0
	for _, t := range types {
		if t == want {
			n++
		}
	}
	return n
}

var completeLicense = map[string]string{
	"applicant_name":         "Acme Corp",
	"end_user":               "Globex",
	"product_classification": "5A002",
	"destination_country":    "NO",
}

func TestTransitionTable(t *testing.T) {
	edges := map[domain.CaseStatus][]domain.CaseStatus{
		domain.StatusNew:       {domain.StatusInReview, domain.StatusBlocked, domain.StatusClosed},
		domain.StatusInReview:  {domain.StatusNeedsInfo, domain.StatusApproved, domain.StatusBlocked, domain.StatusClosed},
		domain.StatusNeedsInfo: {domain.StatusInReview, domain.StatusBlocked, domain.StatusClosed},
		domain.StatusBlocked:   {domain.StatusInReview, domain.StatusClosed},
		domain.StatusApproved:  {domain.StatusClosed},
	}
	for _, from := range domain.Statuses {
		allowed := map[domain.CaseStatus]bool{}
		for _, to := range edges[from] {
			allowed[to] = true
		}
		for _, to := range domain.Statuses {
			if got := engine.ValidTransition(from, to); got != allowed[to] {
				t.Errorf("ValidTransition(%s, %s) = %v, want %v", from, to, got, allowed[to])
			}
		}
	}
	require.Empty(t, engine.NextStatuses(domain.StatusClosed))
}

func TestValidateTransitionNamesEdge(t *testing.T) {
	err := engine.ValidateTransition(domain.StatusApproved, domain.StatusInReview)
	require.ErrorIs(t, err, engine.ErrInvalidTransition)
	var te *engine.InvalidTransitionError
	require.ErrorAs(t, err, &te)
	require.Equal(t, domain.StatusApproved, te.From)
	require.Equal(t, domain.StatusInReview, te.To)
	require.Equal(t, "invalid transition approved -> in_review", err.Error())
}

func TestCreateCaseFromSubmission(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, nil)
	require.Equal(t, domain.StatusNew, c.Status)
	require.Equal(t, "export_license", c.DecisionType)
	require.Equal(t, domain.PriorityNormal, c.Priority)
	require.Nil(t, c.AssigneeID)

	got, err := env.Engine.GetCase(env.Ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, c, got)
	require.Equal(t, []domain.EventType{domain.EventCaseCreated}, env.eventTypes(t, c.ID))

	_, err = env.Engine.CreateCase(env.Ctx, engine.CaseCreateOptions{SubmissionID: "missing", Actor: sam})
	require.ErrorIs(t, err, engine.ErrSubmissionNotFound)

	_, err = env.Engine.GetCase(env.Ctx, "missing")
	require.ErrorIs(t, err, engine.ErrCaseNotFound)
}

func TestStatusChangeAutoAssignsAndLogs(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, nil)

	c = env.move(t, c.ID, domain.StatusInReview, reviewer)
	require.Equal(t, domain.StatusInReview, c.Status)
	require.NotNil(t, c.AssigneeID)
	require.Equal(t, "rita", *c.AssigneeID)
	require.Equal(t, int64(2), c.Version)

	types := env.eventTypes(t, c.ID)
	require.Equal(t, []domain.EventType{domain.EventCaseCreated, domain.EventStatusChanged, domain.EventCaseAssigned}, types)

	_, err := env.Engine.AssignCase(env.Ctx, c.ID, "", reviewer)
	require.ErrorIs(t, err, engine.ErrInvalidInput)

	c, err = env.Engine.AssignCase(env.Ctx, c.ID, "rob", reviewer)
	require.NoError(t, err)
	require.Equal(t, "rob", *c.AssigneeID)
}

func TestNeedsInfoOpensRequest(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, nil)
	env.move(t, c.ID, domain.StatusInReview, reviewer)
	_, err := env.Engine.UpdateCaseStatus(env.Ctx, engine.StatusChange{
		CaseID: c.ID, To: domain.StatusNeedsInfo, Actor: reviewer, Reason: "end user missing",
	})
	require.NoError(t, err)

	evts, err := env.Engine.ListEvents(env.Ctx, c.ID)
	require.NoError(t, err)
	last := evts[len(evts)-1]
	require.Equal(t, domain.EventRequestInfoCreated, last.Type)
	require.Equal(t, "end user missing", last.Payload["reason"])
}

func TestIllegalTransitionWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, completeLicense)
	env.move(t, c.ID, domain.StatusInReview, reviewer)
	_, err := env.Engine.MakeDecision(env.Ctx, engine.DecisionInput{CaseID: c.ID, Value: domain.DecisionApproved, Actor: reviewer})
	require.NoError(t, err)
	before := env.eventTypes(t, c.ID)

	_, err = env.Engine.UpdateCaseStatus(env.Ctx, engine.StatusChange{CaseID: c.ID, To: domain.StatusInReview, Actor: reviewer})
	require.ErrorIs(t, err, engine.ErrInvalidTransition)
	require.Contains(t, err.Error(), "approved -> in_review")

	got, err := env.Engine.GetCase(env.Ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusApproved, got.Status)
	require.Equal(t, before, env.eventTypes(t, c.ID))
}

func TestClosedCaseIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, nil)
	env.move(t, c.ID, domain.StatusClosed, reviewer)
	for _, to := range domain.Statuses {
		_, err := env.Engine.UpdateCaseStatus(env.Ctx, engine.StatusChange{CaseID: c.ID, To: to, Actor: admin})
		require.ErrorIs(t, err, engine.ErrInvalidTransition, "closed -> %s", to)
	}
	_, err := env.Engine.AttachEvidence(env.Ctx, engine.EvidenceInput{CaseID: c.ID, Filename: "late.pdf", Actor: reviewer})
	require.ErrorIs(t, err, engine.ErrCaseClosed)
}

func TestStaleExpectedFromIsRejected(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, nil)
	env.move(t, c.ID, domain.StatusInReview, reviewer)

	_, err := env.Engine.UpdateCaseStatus(env.Ctx, engine.StatusChange{
		CaseID: c.ID, To: domain.StatusBlocked, ExpectedFrom: domain.StatusNew, Actor: verifier,
	})
	require.ErrorIs(t, err, engine.ErrInvalidTransition)
	var te *engine.InvalidTransitionError
	require.ErrorAs(t, err, &te)
	require.True(t, te.Stale)
	require.Equal(t, domain.StatusInReview, te.Current)

	got, err := env.Engine.GetCase(env.Ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusInReview, got.Status)
}

func TestConcurrentStatusChangesSerialize(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, nil)
	env.move(t, c.ID, domain.StatusInReview, reviewer)
	before := countType(env.eventTypes(t, c.ID), domain.EventStatusChanged)

	const writers = 12
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.UpdateCaseStatus(env.Ctx, engine.StatusChange{
				CaseID:       c.ID,
				To:           domain.StatusBlocked,
				ExpectedFrom: domain.StatusInReview,
				Actor:        reviewer,
			})
		}(i)
	}
	wg.Wait()

	ok, rejected := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, engine.ErrInvalidTransition):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, writers-1, rejected)

	after := countType(env.eventTypes(t, c.ID), domain.EventStatusChanged)
	require.Equal(t, before+1, after)

	got, err := env.Engine.GetCase(env.Ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusBlocked, got.Status)
}

func TestCaseStatsCountsEveryStatus(t *testing.T) {
	env := newTestEnv(t)
	env.newCase(t, nil)
	moved := env.newCase(t, nil)
	env.move(t, moved.ID, domain.StatusInReview, reviewer)

	counts, err := env.Engine.CaseStats(env.Ctx)
	require.NoError(t, err)
	require.Len(t, counts, len(domain.Statuses))
	require.Equal(t, 1, counts[domain.StatusNew])
	require.Equal(t, 1, counts[domain.StatusInReview])
	require.Equal(t, 0, counts[domain.StatusClosed])
}

func TestApprovedToClosedNeedsOverridePermission(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, completeLicense)
	env.move(t, c.ID, domain.StatusInReview, reviewer)
	env.move(t, c.ID, domain.StatusApproved, reviewer)

	_, err := env.Engine.UpdateCaseStatus(env.Ctx, engine.StatusChange{CaseID: c.ID, To: domain.StatusClosed, Actor: reviewer})
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, auth.PermCaseOverride, fe.Permission)

	got := env.move(t, c.ID, domain.StatusClosed, admin)
	require.Equal(t, domain.StatusClosed, got.Status)
}

func TestOverrideStatus(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, nil)
	env.move(t, c.ID, domain.StatusClosed, reviewer)

	_, err := env.Engine.OverrideStatus(env.Ctx, engine.StatusChange{CaseID: c.ID, To: domain.StatusInReview, Actor: reviewer, Reason: "reopen"})
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)

	_, err = env.Engine.OverrideStatus(env.Ctx, engine.StatusChange{CaseID: c.ID, To: domain.StatusInReview, Actor: admin})
	require.ErrorIs(t, err, engine.ErrInvalidInput)

	got, err := env.Engine.OverrideStatus(env.Ctx, engine.StatusChange{CaseID: c.ID, To: domain.StatusInReview, Actor: admin, Reason: "reopened on appeal"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusInReview, got.Status)
	require.Equal(t, "ada", *got.AssigneeID)

	evts, err := env.Engine.ListEvents(env.Ctx, c.ID)
	require.NoError(t, err)
	var override domain.Event
	for _, e := range evts {
		if e.Type == domain.EventStatusChanged && e.Payload["override"] == true {
			override = e
		}
	}
	require.Equal(t, "closed", override.Payload["from"])
	require.Equal(t, "reopened on appeal", override.Payload["reason"])
}

func TestDecisionMovesStatus(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, completeLicense)
	env.move(t, c.ID, domain.StatusInReview, reviewer)

	d, err := env.Engine.MakeDecision(env.Ctx, engine.DecisionInput{
		CaseID: c.ID, Value: domain.DecisionRejected, Reason: "sanctioned end user", Actor: reviewer,
	})
	require.NoError(t, err)
	require.Equal(t, domain.DecisionRejected, d.Value)

	got, err := env.Engine.GetCase(env.Ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusBlocked, got.Status)

	types := env.eventTypes(t, c.ID)
	require.Equal(t, domain.EventDecisionMade, types[len(types)-2])
	require.Equal(t, domain.EventStatusChanged, types[len(types)-1])

	// Already blocked: the decision is kept, the status is not touched.
	_, err = env.Engine.MakeDecision(env.Ctx, engine.DecisionInput{CaseID: c.ID, Value: domain.DecisionRejected, Actor: reviewer})
	require.NoError(t, err)
	after := env.eventTypes(t, c.ID)
	require.Equal(t, countType(types, domain.EventStatusChanged), countType(after, domain.EventStatusChanged))

	history, err := env.Engine.Decisions(env.Ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "sanctioned end user", history[0].Reason)

	// blocked -> approved is not an edge.
	_, err = env.Engine.MakeDecision(env.Ctx, engine.DecisionInput{CaseID: c.ID, Value: domain.DecisionApproved, Actor: reviewer})
	require.ErrorIs(t, err, engine.ErrInvalidTransition)
	history, err = env.Engine.Decisions(env.Ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestDecisionIsAtomic(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, completeLicense)
	env.move(t, c.ID, domain.StatusInReview, reviewer)
	before := env.eventTypes(t, c.ID)

	_, err := env.Engine.DB.ExecContext(env.Ctx, `CREATE TRIGGER fail_status_update BEFORE UPDATE OF status ON cases
BEGIN SELECT RAISE(ABORT, 'injected fault'); END;`)
	require.NoError(t, err)

	_, err = env.Engine.MakeDecision(env.Ctx, engine.DecisionInput{CaseID: c.ID, Value: domain.DecisionApproved, Actor: reviewer})
	var pe *engine.PersistenceError
	require.ErrorAs(t, err, &pe)

	got, err := env.Engine.GetCase(env.Ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusInReview, got.Status)
	require.Equal(t, before, env.eventTypes(t, c.ID))
	history, err := env.Engine.Decisions(env.Ctx, c.ID)
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestNotesAndTimeline(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, nil)

	note, err := env.Engine.AddNote(env.Ctx, c.ID, verifier, "  called the applicant  ")
	require.NoError(t, err)
	require.Equal(t, domain.EventNote, note.Type)
	require.Equal(t, "called the applicant", note.Payload["text"])
	env.move(t, c.ID, domain.StatusInReview, reviewer)

	types := env.eventTypes(t, c.ID)
	require.Equal(t, 1, countType(types, domain.EventNoteAdded))

	timeline, err := env.Engine.Timeline(env.Ctx, c.ID)
	require.NoError(t, err)
	got := make([]domain.EventType, len(timeline))
	for i, e := range timeline {
		got[i] = e.Type
	}
	require.Equal(t, []domain.EventType{
		domain.EventCaseAssigned,
		domain.EventStatusChanged,
		domain.EventNote,
		domain.EventCaseCreated,
	}, got)

	_, err = env.Engine.AddNote(env.Ctx, "missing", verifier, "hello")
	require.ErrorIs(t, err, engine.ErrCaseNotFound)
	_, err = env.Engine.AddNote(env.Ctx, c.ID, verifier, " ")
	require.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestListEventsOrdered(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, completeLicense)
	env.move(t, c.ID, domain.StatusInReview, reviewer)
	_, err := env.Engine.AddNote(env.Ctx, c.ID, reviewer, "looks fine")
	require.NoError(t, err)
	env.move(t, c.ID, domain.StatusNeedsInfo, reviewer)
	_, err = env.Engine.RespondToInfoRequest(env.Ctx, engine.InfoResponse{CaseID: c.ID, Message: "attached", Actor: sam})
	require.NoError(t, err)
	env.move(t, c.ID, domain.StatusInReview, reviewer)
	_, err = env.Engine.RecomputeIntelligence(env.Ctx, c.ID, reviewer)
	require.NoError(t, err)

	evts, err := env.Engine.ListEvents(env.Ctx, c.ID)
	require.NoError(t, err)
	require.NotEmpty(t, evts)
	for i := 1; i < len(evts); i++ {
		if evts[i].CreatedAt < evts[i-1].CreatedAt {
			t.Fatalf("event %d at %s precedes %s", evts[i].ID, evts[i].CreatedAt, evts[i-1].CreatedAt)
		}
		if evts[i].CreatedAt == evts[i-1].CreatedAt && evts[i].ID < evts[i-1].ID {
			t.Fatalf("event %d listed after %d at equal time", evts[i].ID, evts[i-1].ID)
		}
	}

	again, err := env.Engine.ListEvents(env.Ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, evts, again)
}

func TestEvidenceLifecycle(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, nil)
	ev, err := env.Engine.AttachEvidence(env.Ctx, engine.EvidenceInput{
		CaseID: c.ID, Filename: "end-user-cert.pdf", SHA256: "ABCDEF", SizeBytes: 1024, Actor: sam,
	})
	require.NoError(t, err)
	require.Equal(t, "abcdef", ev.SHA256)

	got, err := env.Engine.GetCase(env.Ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, []string{ev.ID}, got.EvidenceIDs)

	items, err := env.Engine.ListEvidence(env.Ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, env.Engine.RemoveEvidence(env.Ctx, c.ID, ev.ID, reviewer))
	items, err = env.Engine.ListEvidence(env.Ctx, c.ID)
	require.NoError(t, err)
	require.Empty(t, items)
	require.ErrorIs(t, env.Engine.RemoveEvidence(env.Ctx, c.ID, ev.ID, reviewer), engine.ErrEvidenceNotFound)

	got, err = env.Engine.GetCase(env.Ctx, c.ID)
	require.NoError(t, err)
	require.Empty(t, got.EvidenceIDs)
}

func TestRespondRequiresOpenRequest(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, map[string]string{"applicant_name": "Acme"})
	env.move(t, c.ID, domain.StatusInReview, reviewer)

	_, err := env.Engine.RespondToInfoRequest(env.Ctx, engine.InfoResponse{CaseID: c.ID, Message: "here", Actor: sam})
	require.ErrorIs(t, err, engine.ErrNoOpenInfoRequest)

	env.move(t, c.ID, domain.StatusNeedsInfo, reviewer)
	evt, err := env.Engine.RespondToInfoRequest(env.Ctx, engine.InfoResponse{
		CaseID: c.ID, Fields: map[string]string{"end_user": "Globex", "destination_country": "NO"}, Actor: sam,
	})
	require.NoError(t, err)
	require.Equal(t, domain.EventRequestInfoResubmitted, evt.Type)
	require.Equal(t, []string{"destination_country", "end_user"}, evt.Payload["fields"])

	got, err := env.Engine.GetCase(env.Ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusNeedsInfo, got.Status)
	sub, err := env.Engine.GetSubmission(env.Ctx, *got.SubmissionID)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"applicant_name": "Acme", "end_user": "Globex", "destination_country": "NO"}, sub.Fields)
}

func TestRespondRejectsSharedSubmission(t *testing.T) {
	env := newTestEnv(t)
	first := env.newCase(t, map[string]string{"applicant_name": "Acme"})
	second, err := env.Engine.CreateCase(env.Ctx, engine.CaseCreateOptions{SubmissionID: *first.SubmissionID, Actor: sam})
	require.NoError(t, err)
	env.move(t, first.ID, domain.StatusInReview, reviewer)
	env.move(t, first.ID, domain.StatusNeedsInfo, reviewer)

	_, err = env.Engine.RespondToInfoRequest(env.Ctx, engine.InfoResponse{
		CaseID: first.ID, Fields: map[string]string{"end_user": "Globex"}, Actor: sam,
	})
	require.ErrorIs(t, err, engine.ErrSharedSubmission)

	sub, err := env.Engine.GetSubmission(env.Ctx, *second.SubmissionID)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"applicant_name": "Acme"}, sub.Fields)
	require.Zero(t, countType(env.eventTypes(t, first.ID), domain.EventRequestInfoResubmitted))

	_, err = env.Engine.RespondToInfoRequest(env.Ctx, engine.InfoResponse{CaseID: first.ID, Message: "see attached", Actor: sam})
	require.NoError(t, err)
}

func signalsByType(sigs []domain.Signal) map[domain.SignalType]domain.Signal {
	out := map[domain.SignalType]domain.Signal{}
	for _, s := range sigs {
		out[s.Type] = s
	}
	return out
}

func TestHappyPathScenario(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, completeLicense)
	env.move(t, c.ID, domain.StatusInReview, reviewer)
	_, err := env.Engine.AttachEvidence(env.Ctx, engine.EvidenceInput{CaseID: c.ID, Filename: "license.pdf", Actor: sam})
	require.NoError(t, err)
	_, err = env.Engine.LinkDecisionTrace(env.Ctx, c.ID, "trace-42", reviewer)
	require.NoError(t, err)
	env.move(t, c.ID, domain.StatusNeedsInfo, reviewer)
	_, err = env.Engine.RespondToInfoRequest(env.Ctx, engine.InfoResponse{CaseID: c.ID, Message: "clarified", Actor: sam})
	require.NoError(t, err)
	env.move(t, c.ID, domain.StatusInReview, reviewer)

	snap, err := env.Engine.RecomputeIntelligence(env.Ctx, c.ID, reviewer)
	require.NoError(t, err)
	require.Equal(t, 100.0, snap.Completeness)
	// A resolved request contributes strength 0, so confidence is 5/6.
	require.InDelta(t, 83.33, snap.Confidence, 0.01)
	require.Equal(t, domain.BandHigh, snap.Band)
	require.Empty(t, snap.Gaps)
	require.Equal(t, "High confidence with 0 gaps", snap.Narrative)
}

func TestMinimalCaseScenario(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, nil)

	snap, err := env.Engine.RecomputeIntelligence(env.Ctx, c.ID, reviewer)
	require.NoError(t, err)
	require.InDelta(t, 33.33, snap.Completeness, 0.01)
	require.InDelta(t, 16.67, snap.Confidence, 0.01)
	require.Equal(t, domain.BandLow, snap.Band)
	require.Equal(t, []domain.SignalType{
		domain.SignalSubmissionCompleteness,
		domain.SignalEvidencePresent,
		domain.SignalSubmitterResponded,
		domain.SignalExplainabilityAvailable,
	}, snap.Gaps)

	sigs, err := env.Engine.Signals(env.Ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, sigs, 6)
	byType := signalsByType(sigs)
	require.True(t, byType[domain.SignalSubmissionPresent].Complete)
	require.True(t, byType[domain.SignalRequestInfoOpen].Complete)
	require.Equal(t, "case-status", byType[domain.SignalRequestInfoOpen].Source)
}

func TestCaseWithoutSubmissionScoresLow(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.CreateCase(env.Ctx, engine.CaseCreateOptions{Actor: sam})
	require.NoError(t, err)
	require.Empty(t, c.DecisionType)
	require.Nil(t, c.SubmissionID)

	snap, err := env.Engine.RecomputeIntelligence(env.Ctx, c.ID, reviewer)
	require.NoError(t, err)
	require.Equal(t, domain.BandLow, snap.Band)
	require.InDelta(t, 16.67, snap.Completeness, 0.01)
	require.Contains(t, snap.Gaps, domain.SignalSubmissionPresent)
	require.Contains(t, snap.Gaps, domain.SignalSubmissionCompleteness)

	sub, err := env.Engine.CreateSubmission(env.Ctx, engine.SubmissionCreateOptions{
		Submitter: sam.Name,
		Fields:    map[string]string{"note": "see attachment"},
	})
	require.NoError(t, err)
	bare, err := env.Engine.CreateCase(env.Ctx, engine.CaseCreateOptions{SubmissionID: sub.ID, Actor: sam})
	require.NoError(t, err)
	require.Empty(t, bare.DecisionType)

	_, err = env.Engine.RecomputeIntelligence(env.Ctx, bare.ID, reviewer)
	require.NoError(t, err)
	sigs, err := env.Engine.Signals(env.Ctx, bare.ID)
	require.NoError(t, err)
	byType := signalsByType(sigs)
	require.True(t, byType[domain.SignalSubmissionCompleteness].Complete)
	require.Equal(t, "any_non_empty", byType[domain.SignalSubmissionCompleteness].Metadata["rule"])
}

func TestInfoRequestLoopScenario(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, completeLicense)
	env.move(t, c.ID, domain.StatusInReview, reviewer)
	env.move(t, c.ID, domain.StatusNeedsInfo, reviewer)

	_, err := env.Engine.RecomputeIntelligence(env.Ctx, c.ID, reviewer)
	require.NoError(t, err)
	sigs, err := env.Engine.Signals(env.Ctx, c.ID)
	require.NoError(t, err)
	open := signalsByType(sigs)[domain.SignalRequestInfoOpen]
	require.False(t, open.Complete)
	require.Equal(t, 1.0, open.Strength)

	_, err = env.Engine.RespondToInfoRequest(env.Ctx, engine.InfoResponse{CaseID: c.ID, Message: "done", Actor: sam})
	require.NoError(t, err)
	env.move(t, c.ID, domain.StatusInReview, reviewer)

	_, err = env.Engine.RecomputeIntelligence(env.Ctx, c.ID, reviewer)
	require.NoError(t, err)
	sigs, err = env.Engine.Signals(env.Ctx, c.ID)
	require.NoError(t, err)
	byType := signalsByType(sigs)
	require.True(t, byType[domain.SignalRequestInfoOpen].Complete)
	require.True(t, byType[domain.SignalSubmitterResponded].Complete)
}

func TestRecomputeIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, map[string]string{"applicant_name": "Acme", "end_user": "Globex"})
	first, err := env.Engine.RecomputeIntelligence(env.Ctx, c.ID, reviewer)
	require.NoError(t, err)
	second, err := env.Engine.RecomputeIntelligence(env.Ctx, c.ID, reviewer)
	require.NoError(t, err)
	require.NotEqual(t, first.ComputedAt, second.ComputedAt)
	if diff := cmp.Diff(first, second, cmpopts.IgnoreFields(domain.Snapshot{}, "ComputedAt")); diff != "" {
		t.Fatalf("snapshot changed between recomputes:\n%s", diff)
	}
	require.Equal(t, 2, countType(env.eventTypes(t, c.ID), domain.EventDecisionIntelligenceUpdated))

	sigs, err := env.Engine.Signals(env.Ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, sigs, 6)
}

func TestGetIntelligenceComputesOnce(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, nil)

	first, err := env.Engine.GetIntelligence(env.Ctx, c.ID, verifier)
	require.NoError(t, err)
	second, err := env.Engine.GetIntelligence(env.Ctx, c.ID, verifier)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, countType(env.eventTypes(t, c.ID), domain.EventDecisionIntelligenceUpdated))

	_, err = env.Engine.GetIntelligence(env.Ctx, "missing", verifier)
	require.ErrorIs(t, err, engine.ErrCaseNotFound)
}

func TestResetCase(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, nil)
	_, err := env.Engine.AddNote(env.Ctx, c.ID, verifier, "note")
	require.NoError(t, err)

	err = env.Engine.ResetCase(env.Ctx, c.ID, verifier)
	var fe auth.ForbiddenError
	require.True(t, errors.As(err, &fe))

	require.NoError(t, env.Engine.ResetCase(env.Ctx, c.ID, admin))
	_, err = env.Engine.GetCase(env.Ctx, c.ID)
	require.ErrorIs(t, err, engine.ErrCaseNotFound)
	_, err = env.Engine.ListEvents(env.Ctx, c.ID)
	require.ErrorIs(t, err, engine.ErrCaseNotFound)
	require.ErrorIs(t, env.Engine.ResetCase(env.Ctx, c.ID, admin), engine.ErrCaseNotFound)
}
