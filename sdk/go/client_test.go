package caselinesdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/migrate"
	"caseline/internal/server"
)

func newClient(t *testing.T) *Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	e := engine.New(conn, config.Default("wf-1"))

	_, key, err := e.CreateAPIKey(context.Background(), engine.APIKeyCreateOptions{
		ActorName: "ada",
		ActorRole: "admin",
		Actor:     domain.Actor{Name: "bootstrap", Role: "admin"},
	})
	require.NoError(t, err)

	handler, err := server.New(server.Config{Engine: e})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(srv.URL)
	c.APIKey = key
	return c
}

func TestClientDrivesCaseLifecycle(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	sub, err := c.CreateSubmission(ctx, "sanctions_screening", map[string]string{
		"counterparty_name": "Initech",
		"jurisdiction":      "DE",
		"screening_list":    "EU",
	})
	require.NoError(t, err)
	require.Equal(t, "ada", sub.Submitter)

	created, err := c.CreateCase(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, "new", created.Status)
	require.ElementsMatch(t, []string{"in_review", "blocked", "closed"}, created.NextStatuses)

	moved, err := c.UpdateStatus(ctx, created.ID, "in_review", "new", "")
	require.NoError(t, err)
	require.Equal(t, "in_review", moved.Status)

	_, err = c.AddNote(ctx, created.ID, "screening hit was a false positive")
	require.NoError(t, err)

	d, err := c.Decide(ctx, created.ID, "rejected", "counterparty listed")
	require.NoError(t, err)
	require.Equal(t, "rejected", d.Value)
	require.Equal(t, "ada", d.DeciderName)

	got, err := c.GetCase(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "blocked", got.Status)

	timeline, err := c.Timeline(ctx, created.ID)
	require.NoError(t, err)
	require.NotEmpty(t, timeline)
	require.Equal(t, "status_changed", timeline[0].Type)

	intel, err := c.RecomputeIntelligence(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created.ID, intel.Snapshot.CaseID)
	require.InDelta(t, 100, intel.Snapshot.Completeness, 0.001)

	page, err := c.CasesPage(ctx, "blocked", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
}

func TestClientSurfacesErrorEnvelope(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	var apiErr *APIError
	_, err := c.CreateCase(ctx, "no-such-submission")
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	created, err := c.CreateCase(ctx, "")
	require.NoError(t, err)
	require.Empty(t, created.DecisionType)

	_, err = c.UpdateStatus(ctx, created.ID, "approved", "", "")
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusConflict, apiErr.StatusCode)
	require.Equal(t, "invalid_transition", apiErr.Code)

	_, err = c.GetCase(ctx, "missing")
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}
