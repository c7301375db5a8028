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

	"tickler/internal/alert"
	"tickler/internal/app"
	"tickler/internal/config"
	"tickler/internal/db"
	"tickler/internal/domain"
	"tickler/internal/engine"
	"tickler/internal/migrate"
	"tickler/internal/repo"
	"tickler/internal/server"
	"tickler/internal/timer"
)

var rootCmd = &cobra.Command{
	Use:   "tickler",
	Short: "Tickler CLI",
	Long: `Tickler is a personal reminder manager.
- Reminders have a title, optional notes, and an absolute wake-up time in epoch milliseconds.
- When a wake-up fires the reminder is marked completed and an alert is raised.
- Snoozing re-arms a completed or pending reminder some minutes into the future.
- A reconciliation sweep settles overdue reminders and re-arms future ones; it runs
  on daemon startup, after every fire, and on demand with 'tickler sweep'.
- State lives in .tickler/tickler.db inside the workspace; tickler.yml holds optional
  snooze bounds, alert webhooks, and server settings.`,
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
	viper.SetEnvPrefix("TICKLER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(editCmd())
	rootCmd.AddCommand(snoozeCmd())
	rootCmd.AddCommand(dismissCmd())
	rootCmd.AddCommand(clearSnoozesCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Printf("Initialized workspace: %s and %s\n", path, db.Path(workspace))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")
	return cmd
}

func addCmd() *cobra.Command {
	var opts engine.ReminderCreateOptions
	var whenAt string
	var inMinutes int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a reminder",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			if opts.WhenMs == 0 {
				switch {
				case whenAt != "":
					t, err := time.Parse(time.RFC3339, whenAt)
					if err != nil {
						return fmt.Errorf("invalid --at, want RFC3339: %w", err)
					}
					opts.WhenMs = t.UnixMilli()
				case inMinutes > 0:
					opts.WhenMs = time.Now().Add(time.Duration(inMinutes) * time.Minute).UnixMilli()
				default:
					return fmt.Errorf("one of --when-ms, --at or --in-minutes is required")
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rem, err := e.CreateReminder(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(rem)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "reminder id (optional, UUID if omitted)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "notes")
	cmd.Flags().Int64Var(&opts.WhenMs, "when-ms", 0, "wake-up time, epoch milliseconds")
	cmd.Flags().StringVar(&whenAt, "at", "", "wake-up time, RFC3339")
	cmd.Flags().IntVar(&inMinutes, "in-minutes", 0, "wake-up time, minutes from now")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func listCmd() *cobra.Command {
	var f repo.ReminderFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListReminders(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "When", "Completed"})
				for _, rem := range items {
					completed := ""
					if rem.CompletedAtMs != nil {
						completed = formatMs(*rem.CompletedAtMs)
					}
					tw.AppendRow(table.Row{rem.ID, rem.Title, rem.Status, formatMs(rem.WhenMs), completed})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (pending, completed)")
	cmd.Flags().Int64Var(&f.DueBeforeMs, "due-before-ms", 0, "only reminders due at or before this epoch-ms time")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max results")
	return cmd
}

func showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a reminder and its wakeups",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rem, err := e.Repo.GetReminder(ctx, id)
				if err != nil {
					return err
				}
				wakeups, err := e.Repo.ListWakeupsForReminder(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"reminder": rem,
					"wakeups":  wakeups,
				})
			})
		},
	}
	return cmd
}

func editCmd() *cobra.Command {
	var title, notes string
	var whenMs int64
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit a pending reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ReminderUpdateOptions{
				ID:      args[0],
				ActorID: viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("notes") {
				opts.Notes = &notes
			}
			if cmd.Flags().Changed("when-ms") {
				opts.WhenMs = &whenMs
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rem, err := e.UpdateReminder(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(rem)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&notes, "notes", "", "new notes")
	cmd.Flags().Int64Var(&whenMs, "when-ms", 0, "new wake-up time, epoch milliseconds")
	return cmd
}

func snoozeCmd() *cobra.Command {
	var minutes int
	var atMs int64
	cmd := &cobra.Command{
		Use:   "snooze <id>",
		Short: "Snooze a reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			actorID := viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var rem domain.Reminder
				var err error
				if cmd.Flags().Changed("at-ms") {
					rem, err = e.SnoozeUntil(ctx, id, atMs, actorID)
				} else {
					rem, err = e.Snooze(ctx, id, minutes, actorID)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(rem)
			})
		},
	}
	cmd.Flags().IntVar(&minutes, "minutes", 10, "snooze duration in minutes")
	cmd.Flags().Int64Var(&atMs, "at-ms", 0, "snooze until this epoch-ms time")
	return cmd
}

func dismissCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dismiss <id>",
		Short: "Cancel every wakeup for a reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Dismiss(ctx, id, viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func clearSnoozesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear-snoozes <id>",
		Short: "Cancel only the snooze wakeups for a reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.ClearSnoozes(ctx, id, viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func deleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteReminder(ctx, id, viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Settle overdue reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				settled, armed, err := e.Reconcile(ctx, "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]int{"settled": settled, "armed": armed})
				}
				fmt.Printf("settled %d, armed %d\n", settled, armed)
				return nil
			})
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show workspace status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountRemindersByStatus(ctx)
				if err != nil {
					return err
				}
				version, err := migrate.SchemaVersion(e.DB)
				if err != nil {
					return err
				}
				next, err := e.Repo.ListReminders(ctx, repo.ReminderFilters{Status: domain.StatusPending, Limit: 1})
				if err != nil {
					return err
				}
				out := map[string]any{
					"db":              db.Path(viper.GetString("workspace")),
					"schema_version":  version,
					"reminder_counts": counts,
				}
				if len(next) > 0 {
					out["next_due"] = formatMs(next[0].WhenMs)
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Database: %s (schema v%d)\n", out["db"], version)
				fmt.Println("Reminders:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				if len(next) > 0 {
					fmt.Printf("Next due: %s (%s)\n", next[0].Title, formatMs(next[0].WhenMs))
				}
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
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

func keyCmd() *cobra.Command {
	key := &cobra.Command{
		Use:   "key",
		Short: "Manage API keys",
	}
	key.AddCommand(keyCreateCmd())
	key.AddCommand(keyListCmd())
	key.AddCommand(keyDeleteCmd())
	return key
}

func keyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				plaintext := uuid.New().String()
				key := domain.APIKey{
					ID:      uuid.New().String(),
					ActorID: viper.GetString("actor-id"),
					Name:    name,
					KeyHash: repo.HashAPIKey(plaintext),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "actor_id": key.ActorID, "key": plaintext})
				}
				fmt.Printf("Created key %s for %s\n", key.ID, key.ActorID)
				fmt.Printf("API key (shown once): %s\n", plaintext)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func keyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				for i := range keys {
					keys[i].KeyHash = ""
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor id")
	return cmd
}

func keyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(loaded)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = loaded.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return cfg
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the reminder daemon and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			rt, err := app.Start(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			defer rt.Close()
			if addr == "" {
				addr = rt.Config.Server.Addr
			}
			if addr == "" {
				addr = "127.0.0.1:8080"
			}
			if basePath == "" {
				basePath = rt.Config.Server.BasePath
			}
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("TICKLER_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("TICKLER_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: rt.Engine, BasePath: basePath, Auth: authCfg})
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
			fmt.Printf("Serving Tickler API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	return cmd
}

// --- helpers ---

// withEngine runs one-shot commands against a noop timer; alerts still go
// to the log sink so snooze and sweep print what they settle.
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
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	sched := timer.New(nil)
	defer sched.Stop()
	e := engine.New(conn, cfg, sched, alert.FromConfig(cfg))
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
	return fn(ctx, repo.Repo{DB: conn})
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

func formatMs(ms int64) string {
	return time.UnixMilli(ms).Local().Format(time.RFC3339)
}
