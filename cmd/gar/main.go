package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"garrison/internal/app"
	"garrison/internal/config"
	"garrison/internal/db"
	"garrison/internal/domain"
	"garrison/internal/engine"
	"garrison/internal/migrate"
	"garrison/internal/notify"
	"garrison/internal/repo"
	"garrison/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gar",
	Short: "Garrison CLI",
	Long: `Garrison tracks unit administration: reports moving through ordered
approval chains, tasks with assignees and due dates, and the notifications
both produce.

- Workspace: your .garrison directory with the database; unit config lives
  in garrison.yml and is imported into the DB on first use.
- Reports: drafts are submitted into an approval chain; each approver acts
  in turn, may approve, reject, or send the report back for revision.
- Revisions: every resubmission is an immutable versioned snapshot; the
  chain restarts from the first approver.
- Tasks: single-assignee work items with due dates and priorities.
- Event log: the journal of everything that happened, see 'gar log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GARRISON")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "acting user identifier")
	rootCmd.PersistentFlags().String("unit", "", "unit id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
	_ = viper.BindPFlag("unit", rootCmd.PersistentFlags().Lookup("unit"))
}

func registerCommands() {
	rootCmd.AddCommand(unitCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(notifyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- unit ---

func unitCmd() *cobra.Command {
	unit := &cobra.Command{Use: "unit", Short: "Manage units"}
	unit.AddCommand(unitInitCmd())
	unit.AddCommand(unitListCmd())
	unit.AddCommand(unitShowCmd())
	return unit
}

func unitInitCmd() *cobra.Command {
	var id, name, desc string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a unit and seed its config and roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default(id)
			}
			e := engine.New(conn, cfg)
			u, err := e.InitUnit(cmd.Context(), id, name, desc, viper.GetString("user-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(u)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "unit id")
	cmd.Flags().StringVar(&name, "name", "", "unit name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func unitListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List units",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListUnits(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func unitShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <unit-id>",
		Short: "Show unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u, err := r.GetUnit(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
}

// --- config ---

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var unitID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default garrison.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if unitID == "" {
				unitID = "default-unit"
			}
			return os.WriteFile(path, []byte(config.GenerateDefault(unitID)), 0o644)
		},
	}
	cmd.Flags().StringVar(&unitID, "unit-id", "", "unit id for the template")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active unit config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
}

func configImportCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a config file into the unit's stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(path)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.UpsertUnitConfig(ctx, e.Config.Unit.ID, cfg)
			})
		},
	}
	cmd.Flags().StringVar(&path, "file", "garrison.yml", "config file path")
	return cmd
}

// --- users ---

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage unit members"}
	user.AddCommand(userRegisterCmd())
	user.AddCommand(userListCmd())
	return user
}

func userRegisterCmd() *cobra.Command {
	var id, name, role string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a unit member",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.RegisterUser(ctx, engine.UserCreateOptions{
					ID:      id,
					Name:    name,
					Role:    role,
					Unit:    e.Config.Unit.ID,
					ActorID: viper.GetString("user-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "user id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "soldier", "role")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List unit members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				users, err := e.ListUsers(ctx, e.Config.Unit.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Role})
				}
				tw.Render()
				return nil
			})
		},
	}
}

// --- reports ---

func reportCmd() *cobra.Command {
	rep := &cobra.Command{Use: "report", Short: "Reports and approvals"}
	rep.AddCommand(reportCreateCmd())
	rep.AddCommand(reportListCmd())
	rep.AddCommand(reportShowCmd())
	rep.AddCommand(reportSubmitCmd())
	rep.AddCommand(reportApproveCmd())
	rep.AddCommand(reportRejectCmd())
	rep.AddCommand(reportReviseCmd())
	rep.AddCommand(reportResubmitCmd())
	rep.AddCommand(reportCommentCmd())
	rep.AddCommand(reportPendingCmd())
	rep.AddCommand(reportDeleteCmd())
	return rep
}

func reportCreateCmd() *cobra.Command {
	var title, content, reportType, priority string
	var approvers []string
	var submit bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.CreateReport(ctx, engine.ReportCreateOptions{
					Title:     title,
					Content:   content,
					AuthorID:  viper.GetString("user-id"),
					Type:      reportType,
					Priority:  priority,
					Approvers: approvers,
					Submit:    submit,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "report title")
	cmd.Flags().StringVar(&content, "content", "", "report body")
	cmd.Flags().StringVar(&reportType, "type", "", "report type")
	cmd.Flags().StringVar(&priority, "priority", "", "low|medium|high")
	cmd.Flags().StringSliceVar(&approvers, "approver", nil, "approver user id, ordered (defaults to the configured chain)")
	cmd.Flags().BoolVar(&submit, "submit", false, "submit immediately")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func reportListCmd() *cobra.Command {
	var status, author string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListReports(ctx, repo.ReportFilters{
					Unit:     e.Config.Unit.ID,
					Status:   status,
					AuthorID: author,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Author", "Awaiting", "Rev"})
				for _, r := range items {
					awaiting := ""
					if r.CurrentApprover != nil {
						awaiting = *r.CurrentApprover
					}
					tw.AppendRow(table.Row{r.ID, r.Title, r.Status, r.AuthorID, awaiting, r.CurrentRevision})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&author, "author", "", "author filter")
	return cmd
}

func reportShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <report-id>",
		Short: "Show a report with approvals, comments and revisions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.GetReport(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
}

func reportSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <report-id>",
		Short: "Submit a draft for approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.SubmitReport(ctx, args[0], viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
}

func reportApproveCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "approve <report-id>",
		Short: "Approve at your position in the chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.ApproveReport(ctx, args[0], viper.GetString("user-id"), optionalString(comment))
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "optional comment")
	return cmd
}

func reportRejectCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "reject <report-id>",
		Short: "Reject the report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.RejectReport(ctx, args[0], viper.GetString("user-id"), optionalString(comment))
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "optional comment")
	return cmd
}

func reportReviseCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "request-revision <report-id>",
		Short: "Send the report back to its author",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.RequestRevision(ctx, args[0], viper.GetString("user-id"), comment)
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "what needs to change (required)")
	_ = cmd.MarkFlagRequired("comment")
	return cmd
}

func reportResubmitCmd() *cobra.Command {
	var title, content, comment string
	cmd := &cobra.Command{
		Use:   "resubmit <report-id>",
		Short: "Submit a revised version and restart the chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.SubmitRevision(ctx, args[0], viper.GetString("user-id"), title, content, nil, optionalString(comment))
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "revised title")
	cmd.Flags().StringVar(&content, "content", "", "revised body")
	cmd.Flags().StringVar(&comment, "comment", "", "what changed")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func reportCommentCmd() *cobra.Command {
	var content string
	cmd := &cobra.Command{
		Use:   "comment <report-id>",
		Short: "Comment on a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AddComment(ctx, args[0], viper.GetString("user-id"), content)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "comment body")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func reportPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Reports waiting on you",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ReportsForApproval(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func reportDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <report-id>",
		Short: "Delete a report (author or battalion commander and up)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteReport(ctx, args[0], viper.GetString("user-id"))
			})
		},
	}
}

// --- tasks ---

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskStatsCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var title, desc, assignee, due, priority string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
					Title:       title,
					Description: desc,
					AssignedTo:  assignee,
					CreatedBy:   viper.GetString("user-id"),
					DueDate:     optionalString(due),
					Priority:    priority,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&assignee, "assign-to", "", "assignee user id")
	cmd.Flags().StringVar(&due, "due", "", "due date (RFC3339)")
	cmd.Flags().StringVar(&priority, "priority", "", "low|medium|high")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("assign-to")
	return cmd
}

func taskListCmd() *cobra.Command {
	var status, assignee, priority string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListTasks(ctx, repo.TaskFilters{
					Unit:       e.Config.Unit.ID,
					Status:     status,
					AssignedTo: assignee,
					Priority:   priority,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Assignee", "Priority", "Due"})
				for _, t := range items {
					due := ""
					if t.DueDate != nil {
						due = *t.DueDate
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.AssignedTo, t.Priority, due})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee filter")
	cmd.Flags().StringVar(&priority, "priority", "", "priority filter")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var status, assignee, priority, due string
	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, engine.TaskUpdateOptions{
					ID:         args[0],
					ActorID:    viper.GetString("user-id"),
					Status:     optionalString(status),
					AssignedTo: optionalString(assignee),
					Priority:   optionalString(priority),
					DueDate:    optionalString(due),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "pending|in_progress|completed|cancelled")
	cmd.Flags().StringVar(&assignee, "assign-to", "", "reassign to user id")
	cmd.Flags().StringVar(&priority, "priority", "", "low|medium|high")
	cmd.Flags().StringVar(&due, "due", "", "due date (RFC3339)")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task (creator or battalion commander and up)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteTask(ctx, args[0], viper.GetString("user-id"))
			})
		},
	}
}

func taskStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Task counts by status and priority",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				stats, err := e.TaskStats(ctx, e.Config.Unit.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(stats)
			})
		},
	}
}

// --- notifications ---

func notifyCmd() *cobra.Command {
	n := &cobra.Command{Use: "notify", Short: "Notifications"}
	n.AddCommand(notifyListCmd())
	n.AddCommand(notifyReadCmd())
	return n
}

func notifyListCmd() *cobra.Command {
	var unread bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Notifications(ctx, viper.GetString("user-id"), unread, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Created", "Read"})
				for _, n := range items {
					read := ""
					if n.ReadAt != nil {
						read = *n.ReadAt
					}
					tw.AppendRow(table.Row{n.ID, n.Kind, n.CreatedAt, read})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "unread only")
	cmd.Flags().IntVar(&limit, "n", 20, "number of notifications")
	return cmd
}

func notifyReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <notification-id>",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.MarkNotificationRead(ctx, args[0], viper.GetString("user-id"))
			})
		},
	}
}

// --- event log ---

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The journal of everything that happened: report transitions, task changes, registrations.",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Unit.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

// --- api keys ---

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "API keys for the HTTP API"}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyRevokeCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Mint an API key (the raw key is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				raw := uuid.NewString() + uuid.NewString()
				key := domain.APIKey{
					ID:      uuid.NewString(),
					UserID:  viper.GetString("user-id"),
					Name:    name,
					KeyHash: repo.HashAPIKey(raw),
				}
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"id": key.ID, "name": key.Name, "key": raw})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
}

func apikeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0], viper.GetString("user-id"))
			})
		},
	}
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	var legacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveUnitAndConfig(cmd.Context(), workspace, viper.GetString("unit"), viper.GetString("user-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			e.Notifier = notify.NewInbox(r)
			notify.StartWebhookForwarder(r, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:             os.Getenv("GARRISON_JWT_SECRET"),
				AllowLegacyUserHeader: legacyHeader,
			}
			if authCfg.JWTSecret == "" && !legacyHeader {
				return fmt.Errorf("GARRISON_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Garrison API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&legacyHeader, "allow-legacy-user-header", false, "accept X-User-Id without auth (dev only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveUnitAndConfig(ctx, workspace, viper.GetString("unit"), viper.GetString("user-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	e.Notifier = notify.NewInbox(r)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
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

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
