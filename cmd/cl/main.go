package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"caseline/internal/app"
	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/engine/auth"
	"caseline/internal/repo"
	"caseline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Caseline CLI",
	Long: `Caseline runs regulatory compliance cases from submission to decision.
Core concepts:
- Submission: the applicant's form data for a decision type (export license, sanctions screening, ...).
- Case: the review of one submission; statuses go new -> in_review -> approved/closed, with needs_info and blocked detours.
- Ledger: every note, status change and decision is an append-only event, view with 'cl case timeline'.
- Decision intelligence: signals derived from the case (completeness, evidence, responses, trace) scored into a confidence band, view with 'cl intel show'.
- Roles: configured in caseline.yml under rbac.roles; unknown callers get auth.default_role.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: .env not loaded:", err)
	}
	viper.SetEnvPrefix("CASELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/caseline.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "local-user", "acting user name")
	rootCmd.PersistentFlags().String("role", "", "acting role (default auth.default_role)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	for _, name := range []string{"workspace", "config", "json", "actor", "role", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(submissionCmd())
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(evidenceCmd())
	rootCmd.AddCommand(infoCmd())
	rootCmd.AddCommand(traceCmd())
	rootCmd.AddCommand(intelCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- submissions ---

func submissionCmd() *cobra.Command {
	sub := &cobra.Command{Use: "submission", Short: "Manage submissions"}
	sub.AddCommand(submissionCreateCmd())
	sub.AddCommand(submissionShowCmd())
	return sub
}

func submissionCreateCmd() *cobra.Command {
	var opts engine.SubmissionCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Record a submission",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := authorize(e, auth.PermSubmissionCreate)
				if err != nil {
					return err
				}
				if opts.Submitter == "" {
					opts.Submitter = actor.Name
				}
				s, err := e.CreateSubmission(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "submission id (default generated)")
	cmd.Flags().StringVar(&opts.DecisionType, "decision-type", "", "decision type")
	cmd.Flags().StringVar(&opts.Submitter, "submitter", "", "submitter name (default --actor)")
	cmd.Flags().StringToStringVar(&opts.Fields, "field", nil, "form field key=value (repeatable)")
	return cmd
}

func submissionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := authorize(e, auth.PermSubmissionRead); err != nil {
					return err
				}
				s, err := e.GetSubmission(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

// --- cases ---

func caseCmd() *cobra.Command {
	c := &cobra.Command{Use: "case", Short: "Manage cases"}
	c.AddCommand(caseCreateCmd())
	c.AddCommand(caseListCmd())
	c.AddCommand(caseStatsCmd())
	c.AddCommand(caseShowCmd())
	c.AddCommand(caseStatusCmd())
	c.AddCommand(caseOverrideCmd())
	c.AddCommand(caseAssignCmd())
	c.AddCommand(caseNoteCmd())
	c.AddCommand(caseDecideCmd())
	c.AddCommand(caseTimelineCmd())
	c.AddCommand(caseEventsCmd())
	c.AddCommand(caseResetCmd())
	return c
}

func caseCreateCmd() *cobra.Command {
	var opts engine.CaseCreateOptions
	var priority string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a case",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := authorize(e, auth.PermCaseCreate)
				if err != nil {
					return err
				}
				opts.Actor = actor
				opts.Priority = domain.Priority(priority)
				c, err := e.CreateCase(ctx, opts)
				if err != nil {
					return err
				}
				return printCase(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "case id (default generated)")
	cmd.Flags().StringVar(&opts.SubmissionID, "submission", "", "submission id")
	cmd.Flags().StringVar(&opts.DecisionType, "decision-type", "", "decision type (default the submission's)")
	cmd.Flags().StringVar(&priority, "priority", "", "low, normal, high or urgent")
	cmd.Flags().StringVar(&opts.DueAt, "due", "", "due date (RFC3339)")
	return cmd
}

func caseListCmd() *cobra.Command {
	var f repo.CaseFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := authorize(e, auth.PermCaseRead); err != nil {
					return err
				}
				items, err := e.ListCases(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Priority", "Decision type", "Assignee", "Updated"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Status, c.Priority, c.DecisionType, deref(c.AssigneeID), c.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee", "", "assignee filter")
	cmd.Flags().StringVar(&f.DecisionType, "decision-type", "", "decision type filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum number of cases")
	return cmd
}

func caseStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count cases per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := authorize(e, auth.PermCaseRead); err != nil {
					return err
				}
				counts, err := e.CaseStats(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Status", "Cases"})
				total := 0
				for _, st := range domain.Statuses {
					tw.AppendRow(table.Row{st, counts[st]})
					total += counts[st]
				}
				tw.AppendFooter(table.Row{"Total", total})
				tw.Render()
				return nil
			})
		},
	}
}

func caseShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := authorize(e, auth.PermCaseRead); err != nil {
					return err
				}
				c, err := e.GetCase(ctx, args[0])
				if err != nil {
					return err
				}
				return printCase(c)
			})
		},
	}
}

func statusFlags(cmd *cobra.Command, req *engine.StatusChange, to, from *string) {
	cmd.Flags().StringVar(to, "to", "", "target status")
	cmd.Flags().StringVar(from, "expected-from", "", "reject if the case is no longer in this status")
	cmd.Flags().StringVar(&req.Reason, "reason", "", "reason recorded on the ledger")
	_ = cmd.MarkFlagRequired("to")
}

func caseStatusCmd() *cobra.Command {
	var req engine.StatusChange
	var to, from string
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Move a case along the lifecycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := authorize(e, auth.PermCaseStatusUpdate)
				if err != nil {
					return err
				}
				req.CaseID, req.Actor = args[0], actor
				req.To, req.ExpectedFrom = domain.CaseStatus(to), domain.CaseStatus(from)
				c, err := e.UpdateCaseStatus(ctx, req)
				if err != nil {
					return err
				}
				return printCase(c)
			})
		},
	}
	statusFlags(cmd, &req, &to, &from)
	return cmd
}

func caseOverrideCmd() *cobra.Command {
	var req engine.StatusChange
	var to, from string
	cmd := &cobra.Command{
		Use:   "override <id>",
		Short: "Force a case status outside the lifecycle graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				req.CaseID, req.Actor = args[0], currentActor(e.Config)
				req.To, req.ExpectedFrom = domain.CaseStatus(to), domain.CaseStatus(from)
				c, err := e.OverrideStatus(ctx, req)
				if err != nil {
					return err
				}
				return printCase(c)
			})
		},
	}
	statusFlags(cmd, &req, &to, &from)
	return cmd
}

func caseAssignCmd() *cobra.Command {
	var assignee string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Set or clear the case assignee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := authorize(e, auth.PermCaseAssign)
				if err != nil {
					return err
				}
				c, err := e.AssignCase(ctx, args[0], assignee, actor)
				if err != nil {
					return err
				}
				return printCase(c)
			})
		},
	}
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee name (empty clears)")
	return cmd
}

func caseNoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "note <id> <text>",
		Short: "Add a note",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := authorize(e, auth.PermCaseNoteAdd)
				if err != nil {
					return err
				}
				evt, err := e.AddNote(ctx, args[0], actor, strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				return printJSONOrTable(evt)
			})
		},
	}
}

func caseDecideCmd() *cobra.Command {
	var in engine.DecisionInput
	var value string
	var details map[string]string
	cmd := &cobra.Command{
		Use:   "decide <id>",
		Short: "Record an approved or rejected decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := authorize(e, auth.PermCaseDecide)
				if err != nil {
					return err
				}
				in.CaseID, in.Actor, in.Value = args[0], actor, domain.DecisionValue(value)
				if len(details) > 0 {
					in.Details = make(map[string]any, len(details))
					for k, v := range details {
						in.Details[k] = v
					}
				}
				d, err := e.MakeDecision(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&value, "decision", "", "approved or rejected")
	cmd.Flags().StringVar(&in.Reason, "reason", "", "decision reason")
	cmd.Flags().StringToStringVar(&details, "detail", nil, "decision detail key=value (repeatable)")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func caseTimelineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "timeline <id>",
		Short: "Reviewer timeline, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := authorize(e, auth.PermCaseRead); err != nil {
					return err
				}
				items, err := e.Timeline(ctx, args[0])
				if err != nil {
					return err
				}
				return printEvents(items)
			})
		},
	}
}

func caseEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events <id>",
		Short: "Full ledger of a case, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := authorize(e, auth.PermCaseRead); err != nil {
					return err
				}
				items, err := e.ListEvents(ctx, args[0])
				if err != nil {
					return err
				}
				return printEvents(items)
			})
		},
	}
}

func caseResetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset <id>",
		Short: "Purge a case and its ledger (administrative)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("reset deletes the case ledger; pass --yes to confirm")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.ResetCase(ctx, args[0], currentActor(e.Config)); err != nil {
					return err
				}
				fmt.Printf("case %s reset\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

// --- evidence, info requests, traces ---

func evidenceCmd() *cobra.Command {
	ev := &cobra.Command{Use: "evidence", Short: "Manage case evidence"}
	ev.AddCommand(evidenceAttachCmd())
	ev.AddCommand(evidenceRemoveCmd())
	ev.AddCommand(evidenceListCmd())
	return ev
}

func evidenceAttachCmd() *cobra.Command {
	var in engine.EvidenceInput
	var file string
	cmd := &cobra.Command{
		Use:   "attach <case-id>",
		Short: "Attach evidence to a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				sum, size, err := hashFile(file)
				if err != nil {
					return err
				}
				in.SHA256, in.SizeBytes = sum, size
				if in.Filename == "" {
					in.Filename = filepath.Base(file)
				}
				if in.URI == "" {
					in.URI = "file://" + file
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := authorize(e, auth.PermEvidenceAttach)
				if err != nil {
					return err
				}
				in.CaseID, in.Actor = args[0], actor
				ev, err := e.AttachEvidence(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(ev)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "local file to fingerprint")
	cmd.Flags().StringVar(&in.Filename, "filename", "", "file name")
	cmd.Flags().StringVar(&in.ContentType, "content-type", "", "MIME type")
	cmd.Flags().StringVar(&in.SHA256, "sha256", "", "content digest (hex)")
	cmd.Flags().StringVar(&in.URI, "uri", "", "storage location")
	return cmd
}

func evidenceRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <case-id> <evidence-id>",
		Short: "Remove evidence from a case",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := authorize(e, auth.PermEvidenceAttach)
				if err != nil {
					return err
				}
				if err := e.RemoveEvidence(ctx, args[0], args[1], actor); err != nil {
					return err
				}
				fmt.Printf("evidence %s removed\n", args[1])
				return nil
			})
		},
	}
}

func evidenceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <case-id>",
		Short: "List attached evidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := authorize(e, auth.PermCaseRead); err != nil {
					return err
				}
				items, err := e.ListEvidence(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Filename", "SHA256", "Size", "Attached by"})
				for _, ev := range items {
					tw.AppendRow(table.Row{ev.ID, ev.Filename, ev.SHA256, ev.SizeBytes, ev.AttachedBy})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func infoCmd() *cobra.Command {
	info := &cobra.Command{Use: "info", Short: "Information requests"}
	var in engine.InfoResponse
	respond := &cobra.Command{
		Use:   "respond <case-id>",
		Short: "Answer the open information request of a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := authorize(e, auth.PermInfoRespond)
				if err != nil {
					return err
				}
				in.CaseID, in.Actor = args[0], actor
				evt, err := e.RespondToInfoRequest(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(evt)
			})
		},
	}
	respond.Flags().StringToStringVar(&in.Fields, "field", nil, "updated form field key=value (repeatable)")
	respond.Flags().StringVar(&in.Message, "message", "", "message to the reviewer")
	info.AddCommand(respond)
	return info
}

func traceCmd() *cobra.Command {
	tr := &cobra.Command{Use: "trace", Short: "Explainability traces"}
	tr.AddCommand(&cobra.Command{
		Use:   "link <case-id> <trace-id>",
		Short: "Link the decision trace of a case",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := authorize(e, auth.PermTraceLink)
				if err != nil {
					return err
				}
				c, err := e.LinkDecisionTrace(ctx, args[0], args[1], actor)
				if err != nil {
					return err
				}
				return printCase(c)
			})
		},
	})
	return tr
}

// --- intelligence ---

func intelCmd() *cobra.Command {
	in := &cobra.Command{Use: "intel", Short: "Decision intelligence"}
	in.AddCommand(&cobra.Command{
		Use:   "show <case-id>",
		Short: "Show the snapshot, computing it on first access",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := authorize(e, auth.PermIntelRead)
				if err != nil {
					return err
				}
				snap, err := e.GetIntelligence(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printIntelligence(ctx, e, snap)
			})
		},
	})
	in.AddCommand(&cobra.Command{
		Use:   "recompute <case-id>",
		Short: "Regenerate signals and the snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := authorize(e, auth.PermIntelRecompute)
				if err != nil {
					return err
				}
				snap, err := e.RecomputeIntelligence(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printIntelligence(ctx, e, snap)
			})
		},
	})
	return in
}

func printIntelligence(ctx context.Context, e engine.Engine, snap domain.Snapshot) error {
	sigs, err := e.Signals(ctx, snap.CaseID)
	if err != nil {
		return err
	}
	if viper.GetBool("json") {
		return printJSON(map[string]any{"snapshot": snap, "signals": sigs})
	}
	fmt.Printf("case %s: confidence %.2f (%s), completeness %.2f\n", snap.CaseID, snap.Confidence, snap.Band, snap.Completeness)
	if snap.Narrative != "" {
		fmt.Println(snap.Narrative)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Signal", "Source", "Strength", "Complete"})
	for _, s := range sigs {
		tw.AppendRow(table.Row{s.Type, s.Source, fmt.Sprintf("%.2f", s.Strength), s.Complete})
	}
	tw.Render()
	return nil
}

// --- api keys ---

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var opts engine.APIKeyCreateOptions
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key; the key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.Actor = currentActor(e.Config)
				key, plain, err := e.CreateAPIKey(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{
					"id":         key.ID,
					"actor_name": key.ActorName,
					"actor_role": key.ActorRole,
					"name":       key.Name,
					"key":        plain,
				})
			})
		},
	}
	create.Flags().StringVar(&opts.ActorName, "for", "", "actor the key authenticates as")
	create.Flags().StringVar(&opts.ActorRole, "key-role", "", "role bound to the key")
	create.Flags().StringVar(&opts.Name, "name", "", "label")
	k.AddCommand(create)
	k.AddCommand(&cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RevokeAPIKey(ctx, args[0], currentActor(e.Config)); err != nil {
					return err
				}
				fmt.Printf("api key %s revoked\n", args[0])
				return nil
			})
		},
	})
	return k
}

// --- config ---

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workflow configuration"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var workflowID string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default caseline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(workflowID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&workflowID, "workflow", "caseline", "workflow id")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the workspace configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			names := make([]string, 0, len(cfg.DecisionTypes))
			for name := range cfg.DecisionTypes {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Printf("config ok: workflow %s, decision types %s, roles %s\n",
				cfg.Workflow.ID, strings.Join(names, ", "), strings.Join(cfg.RoleNames(), ", "))
			return nil
		},
	}
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy, devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server and webhook dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()
			e := ws.Engine
			authCfg := server.AuthConfig{
				JWTSecret:              viper.GetString("jwt-secret"),
				AllowLegacyActorHeader: allowLegacy,
				EnableDevLogin:         devLogin,
				Logger:                 e.Logger,
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader && !e.Config.Auth.AllowLegacyActorHeader {
				return fmt.Errorf("CASELINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			server.StartWebhookDispatcher(ctx, e, e.Logger)
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			e.Logger.Info("serving caseline api", "addr", addr, "base_path", basePath, "workflow", e.Config.Workflow.ID)
			fmt.Printf("Serving Caseline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens (env CASELINE_JWT_SECRET)")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "trust X-Actor-Name/X-Actor-Role without credentials (dev only)")
	cmd.Flags().BoolVar(&devLogin, "enable-dev-login", false, "expose POST /auth/dev/login, which mints tokens for any role (dev only)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

// --- helpers ---

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func openWorkspace() (*app.Workspace, error) {
	return app.Open(app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		Logger:     newLogger(),
	})
}

func loadConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	return config.Load(viper.GetString("workspace"))
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws.Engine)
}

func currentActor(cfg *config.Config) domain.Actor {
	return auth.ResolveActor(cfg, viper.GetString("actor"), viper.GetString("role"))
}

// authorize resolves the acting user and checks perm against the workflow RBAC.
func authorize(e engine.Engine, perm string) (domain.Actor, error) {
	actor := currentActor(e.Config)
	if err := e.Policy.Require(actor, perm); err != nil {
		return domain.Actor{}, err
	}
	return actor, nil
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func printCase(c domain.Case) error {
	if viper.GetBool("json") {
		return printJSON(c)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRows([]table.Row{
		{"ID", c.ID},
		{"Status", c.Status},
		{"Priority", c.Priority},
		{"Decision type", c.DecisionType},
		{"Submission", deref(c.SubmissionID)},
		{"Assignee", deref(c.AssigneeID)},
		{"Decision trace", deref(c.DecisionTraceID)},
		{"Evidence", strings.Join(c.EvidenceIDs, ", ")},
		{"Next", joinStatuses(engine.NextStatuses(c.Status))},
		{"Updated", c.UpdatedAt},
	})
	tw.Render()
	return nil
}

func printEvents(items []domain.Event) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "At", "Type", "Actor", "Payload"})
	for _, evt := range items {
		payload, _ := json.Marshal(evt.Payload)
		tw.AppendRow(table.Row{evt.ID, evt.CreatedAt, evt.Type, evt.ActorName + " (" + evt.ActorRole + ")", string(payload)})
	}
	tw.Render()
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func joinStatuses(items []domain.CaseStatus) string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		out = append(out, string(s))
	}
	return strings.Join(out, ", ")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
