package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"reflect"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/engine/auth"
	"caseline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid transition approved -> in_review"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"from\":\"approved\",\"to\":\"in_review\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Caseline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Config, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Caseline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group, cfg.Engine)
	if devLoginEnabled(cfg.Auth, cfg.Engine.Config) {
		registerDevAuth(group, cfg.Auth)
	}
	registerConfig(group, cfg.Engine)
	registerSubmissions(group, cfg.Engine)
	registerCases(group, cfg.Engine)
	registerLedger(group, cfg.Engine)
	registerEvidence(group, cfg.Engine)
	registerIntelligence(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission, "role": fe.Role})
	}
	var te *engine.InvalidTransitionError
	if errors.As(err, &te) {
		details := map[string]any{"from": string(te.From), "to": string(te.To)}
		if te.Stale {
			details["current"] = string(te.Current)
			details["stale"] = true
		}
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), details)
	}
	var pe *engine.PersistenceError
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidInput):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, engine.ErrNoOpenInfoRequest):
		return newAPIError(http.StatusConflict, "no_open_info_request", err.Error(), nil)
	case errors.Is(err, engine.ErrCaseClosed):
		return newAPIError(http.StatusConflict, "case_closed", err.Error(), nil)
	case errors.Is(err, engine.ErrSharedSubmission):
		return newAPIError(http.StatusConflict, "shared_submission", err.Error(), nil)
	case errors.As(err, &pe):
		return newAPIError(http.StatusInternalServerError, "internal_error", "persistence failure", map[string]any{"op": pe.Op, "retryable": true})
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func hasPermission(perms []string, perm string) bool {
	for _, p := range perms {
		if p == perm || p == "*" {
			return true
		}
	}
	return false
}

// requirePermission authorizes the caller for perm and returns the acting
// actor. The role policy always decides; permissions carried by a token can
// only narrow it.
func requirePermission(ctx context.Context, e engine.Engine, perm string) (domain.Actor, error) {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return domain.Actor{}, authErr
	}
	if len(principal.Permissions) > 0 && !hasPermission(principal.Permissions, perm) {
		return domain.Actor{}, auth.ForbiddenError{Role: principal.Actor.Role, Permission: perm}
	}
	if err := e.Policy.Require(principal.Actor, perm); err != nil {
		return domain.Actor{}, err
	}
	return principal.Actor, nil
}

// effectivePermissions is the role's permission list, narrowed by the
// principal's own list when it carries one.
func effectivePermissions(e engine.Engine, principal Principal) []string {
	rolePerms := e.Policy.Permissions(principal.Actor.Role)
	if len(principal.Permissions) == 0 {
		return rolePerms
	}
	out := []string{}
	for _, p := range rolePerms {
		if p == "*" {
			return append([]string(nil), principal.Permissions...)
		}
		if hasPermission(principal.Permissions, p) {
			out = append(out, p)
		}
	}
	return out
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			errSchema := oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
			ensureDefaultErrorResponses(oas, errSchema)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI, errSchema *huma.Schema) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: errSchema,
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	open := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Caseline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		perms := effectivePermissions(e, principal)
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorName:   principal.Actor.Name,
			Role:        principal.Actor.Role,
			Permissions: nonNilSlice(perms),
			Source:      principal.Source,
		}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		name := strings.TrimSpace(input.Body.ActorName)
		if name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_name is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, name, strings.TrimSpace(input.Body.Role), input.Body.Permissions, 0)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func registerConfig(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-config",
		Method:      http.MethodGet,
		Path:        "/config",
		Summary:     "Workflow configuration",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WorkflowConfigResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, auth.PermCaseRead); err != nil {
			return nil, handleError(err)
		}
		if e.Config == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "config not loaded", nil)
		}
		return &struct {
			Body WorkflowConfigResponse `json:"body"`
		}{Body: configResponse(e.Config)}, nil
	})
}

func registerSubmissions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-submission",
		Method:        http.MethodPost,
		Path:          "/submissions",
		Summary:       "Record a submission",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateSubmissionRequest `json:"body"`
	}) (*struct {
		Body domain.Submission `json:"body"`
	}, error) {
		actor, err := requirePermission(ctx, e, auth.PermSubmissionCreate)
		if err != nil {
			return nil, handleError(err)
		}
		submitter := actor.Name
		if input.Body.Submitter != nil && strings.TrimSpace(*input.Body.Submitter) != "" {
			submitter = *input.Body.Submitter
		}
		s, err := e.CreateSubmission(ctx, engine.SubmissionCreateOptions{
			ID:           stringOrEmpty(input.Body.ID),
			DecisionType: input.Body.DecisionType,
			Submitter:    submitter,
			Fields:       input.Body.Fields,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Submission `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-submission",
		Method:      http.MethodGet,
		Path:        "/submissions/{id}",
		Summary:     "Get submission",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Submission `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, auth.PermSubmissionRead); err != nil {
			return nil, handleError(err)
		}
		s, err := e.GetSubmission(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Submission `json:"body"`
		}{Body: s}, nil
	})
}

type caseOutput struct {
	Body CaseResponse `json:"body"`
}

func registerCases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-case",
		Method:        http.MethodPost,
		Path:          "/cases",
		Summary:       "Open a case",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateCaseRequest `json:"body"`
	}) (*caseOutput, error) {
		actor, err := requirePermission(ctx, e, auth.PermCaseCreate)
		if err != nil {
			return nil, handleError(err)
		}
		c, err := e.CreateCase(ctx, engine.CaseCreateOptions{
			ID:           stringOrEmpty(input.Body.ID),
			SubmissionID: stringOrEmpty(input.Body.SubmissionID),
			DecisionType: stringOrEmpty(input.Body.DecisionType),
			Priority:     domain.Priority(stringOrEmpty(input.Body.Priority)),
			DueAt:        stringOrEmpty(input.Body.DueAt),
			Actor:        actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &caseOutput{Body: caseResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List cases",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status       string `query:"status"`
		AssigneeID   string `query:"assignee_id"`
		DecisionType string `query:"decision_type"`
		Limit        int    `query:"limit" default:"50"`
		Cursor       string `query:"cursor"`
	}) (*struct {
		Body paginatedCases `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, auth.PermCaseRead); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.ListCases(ctx, repo.CaseFilters{
			Status:          input.Status,
			AssigneeID:      input.AssigneeID,
			DecisionType:    input.DecisionType,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedCases{}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit-1].CreatedAt, items[limit-1].ID)
			items = items[:limit]
		}
		resp.Items = mapCases(items)
		return &struct {
			Body paginatedCases `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{id}",
		Summary:     "Get case",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*caseOutput, error) {
		if _, err := requirePermission(ctx, e, auth.PermCaseRead); err != nil {
			return nil, handleError(err)
		}
		c, err := e.GetCase(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &caseOutput{Body: caseResponse(c)}, nil
	})

	statusInput := func(id string, body UpdateStatusRequest, actor domain.Actor) engine.StatusChange {
		return engine.StatusChange{
			CaseID:       id,
			To:           domain.CaseStatus(body.Status),
			ExpectedFrom: domain.CaseStatus(stringOrEmpty(body.ExpectedFrom)),
			Reason:       stringOrEmpty(body.Reason),
			Actor:        actor,
		}
	}

	huma.Register(api, huma.Operation{
		OperationID: "update-case-status",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/status",
		Summary:     "Move a case along the lifecycle",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body UpdateStatusRequest `json:"body"`
	}) (*caseOutput, error) {
		actor, err := requirePermission(ctx, e, auth.PermCaseStatusUpdate)
		if err != nil {
			return nil, handleError(err)
		}
		c, err := e.UpdateCaseStatus(ctx, statusInput(input.ID, input.Body, actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &caseOutput{Body: caseResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "override-case-status",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/override",
		Summary:     "Force a case status outside the lifecycle graph",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body UpdateStatusRequest `json:"body"`
	}) (*caseOutput, error) {
		actor, err := requirePermission(ctx, e, auth.PermCaseOverride)
		if err != nil {
			return nil, handleError(err)
		}
		c, err := e.OverrideStatus(ctx, statusInput(input.ID, input.Body, actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &caseOutput{Body: caseResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-case",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/assign",
		Summary:     "Set or clear the case assignee",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body AssignRequest `json:"body"`
	}) (*caseOutput, error) {
		actor, err := requirePermission(ctx, e, auth.PermCaseAssign)
		if err != nil {
			return nil, handleError(err)
		}
		c, err := e.AssignCase(ctx, input.ID, input.Body.AssigneeID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &caseOutput{Body: caseResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "reset-case",
		Method:        http.MethodDelete,
		Path:          "/cases/{id}",
		Summary:       "Purge a case and its ledger (administrative)",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, err := requirePermission(ctx, e, auth.PermCaseReset)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.ResetCase(ctx, input.ID, actor); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerLedger(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-note",
		Method:        http.MethodPost,
		Path:          "/cases/{id}/notes",
		Summary:       "Add a note",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body AddNoteRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		actor, err := requirePermission(ctx, e, auth.PermCaseNoteAdd)
		if err != nil {
			return nil, handleError(err)
		}
		evt, err := e.AddNote(ctx, input.ID, actor, input.Body.Text)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(evt)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "make-decision",
		Method:        http.MethodPost,
		Path:          "/cases/{id}/decisions",
		Summary:       "Record a decision",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body MakeDecisionRequest `json:"body"`
	}) (*struct {
		Body domain.Decision `json:"body"`
	}, error) {
		actor, err := requirePermission(ctx, e, auth.PermCaseDecide)
		if err != nil {
			return nil, handleError(err)
		}
		d, err := e.MakeDecision(ctx, engine.DecisionInput{
			CaseID:  input.ID,
			Value:   domain.DecisionValue(input.Body.Decision),
			Reason:  stringOrEmpty(input.Body.Reason),
			Details: input.Body.Details,
			Actor:   actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Decision `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-decisions",
		Method:      http.MethodGet,
		Path:        "/cases/{id}/decisions",
		Summary:     "Decision history",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body struct {
			Items []domain.Decision `json:"items"`
		} `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, auth.PermCaseRead); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Decisions(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []domain.Decision `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = nonNilSlice(items)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/cases/{id}/events",
		Summary:     "Full ledger of a case, oldest first",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body eventList `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, auth.PermCaseRead); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListEvents(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body eventList `json:"body"`
		}{Body: mapEvents(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "timeline",
		Method:      http.MethodGet,
		Path:        "/cases/{id}/timeline",
		Summary:     "Reviewer timeline, newest first",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body eventList `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, auth.PermCaseRead); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Timeline(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body eventList `json:"body"`
		}{Body: mapEvents(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "respond-info-request",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/info-response",
		Summary:     "Answer an open information request",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body InfoResponseRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		actor, err := requirePermission(ctx, e, auth.PermInfoRespond)
		if err != nil {
			return nil, handleError(err)
		}
		evt, err := e.RespondToInfoRequest(ctx, engine.InfoResponse{
			CaseID:  input.ID,
			Fields:  input.Body.Fields,
			Message: stringOrEmpty(input.Body.Message),
			Actor:   actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(evt)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "link-decision-trace",
		Method:      http.MethodPut,
		Path:        "/cases/{id}/decision-trace",
		Summary:     "Link the explainability trace of a case",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body LinkTraceRequest `json:"body"`
	}) (*caseOutput, error) {
		actor, err := requirePermission(ctx, e, auth.PermTraceLink)
		if err != nil {
			return nil, handleError(err)
		}
		c, err := e.LinkDecisionTrace(ctx, input.ID, input.Body.DecisionTraceID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &caseOutput{Body: caseResponse(c)}, nil
	})
}

func registerEvidence(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "attach-evidence",
		Method:        http.MethodPost,
		Path:          "/cases/{id}/evidence",
		Summary:       "Attach evidence",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body AttachEvidenceRequest `json:"body"`
	}) (*struct {
		Body domain.Evidence `json:"body"`
	}, error) {
		actor, err := requirePermission(ctx, e, auth.PermEvidenceAttach)
		if err != nil {
			return nil, handleError(err)
		}
		var size int64
		if input.Body.SizeBytes != nil {
			size = *input.Body.SizeBytes
		}
		ev, err := e.AttachEvidence(ctx, engine.EvidenceInput{
			CaseID:      input.ID,
			Filename:    input.Body.Filename,
			ContentType: stringOrEmpty(input.Body.ContentType),
			SHA256:      stringOrEmpty(input.Body.SHA256),
			SizeBytes:   size,
			URI:         stringOrEmpty(input.Body.URI),
			Actor:       actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Evidence `json:"body"`
		}{Body: ev}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-evidence",
		Method:      http.MethodGet,
		Path:        "/cases/{id}/evidence",
		Summary:     "List attached evidence",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body struct {
			Items []domain.Evidence `json:"items"`
		} `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, auth.PermCaseRead); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListEvidence(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []domain.Evidence `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = nonNilSlice(items)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-evidence",
		Method:        http.MethodDelete,
		Path:          "/cases/{id}/evidence/{evidence_id}",
		Summary:       "Remove evidence",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID         string `path:"id"`
		EvidenceID string `path:"evidence_id"`
	}) (*struct{}, error) {
		actor, err := requirePermission(ctx, e, auth.PermEvidenceAttach)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.RemoveEvidence(ctx, input.ID, input.EvidenceID, actor); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerIntelligence(api huma.API, e engine.Engine) {
	respond := func(ctx context.Context, snap domain.Snapshot) (*struct {
		Body IntelligenceResponse `json:"body"`
	}, error) {
		sigs, err := e.Signals(ctx, snap.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IntelligenceResponse `json:"body"`
		}{Body: IntelligenceResponse{Snapshot: snap, Signals: nonNilSlice(sigs)}}, nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-intelligence",
		Method:      http.MethodGet,
		Path:        "/cases/{id}/intelligence",
		Summary:     "Decision intelligence snapshot, computed on first access",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body IntelligenceResponse `json:"body"`
	}, error) {
		actor, err := requirePermission(ctx, e, auth.PermIntelRead)
		if err != nil {
			return nil, handleError(err)
		}
		snap, err := e.GetIntelligence(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(ctx, snap)
	})

	huma.Register(api, huma.Operation{
		OperationID: "recompute-intelligence",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/intelligence/recompute",
		Summary:     "Regenerate signals and the snapshot",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body IntelligenceResponse `json:"body"`
	}, error) {
		actor, err := requirePermission(ctx, e, auth.PermIntelRecompute)
		if err != nil {
			return nil, handleError(err)
		}
		snap, err := e.RecomputeIntelligence(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(ctx, snap)
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Issue an API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		actor, err := requirePermission(ctx, e, auth.PermAPIKeyCreate)
		if err != nil {
			return nil, handleError(err)
		}
		key, plain, err := e.CreateAPIKey(ctx, engine.APIKeyCreateOptions{
			ActorName: input.Body.ActorName,
			ActorRole: input.Body.ActorRole,
			Name:      stringOrEmpty(input.Body.Name),
			Actor:     actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{
			ID:        key.ID,
			ActorName: key.ActorName,
			ActorRole: key.ActorRole,
			Name:      key.Name,
			Key:       plain,
			CreatedAt: key.CreatedAt,
		}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	if _, err := time.Parse(domain.TimeLayout, parts[0]); err != nil {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
