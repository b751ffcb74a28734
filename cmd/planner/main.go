package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/martin3r-me/platforms-planner-sub000/internal/batch"
	"github.com/martin3r-me/platforms-planner-sub000/internal/config"
	"github.com/martin3r-me/platforms-planner-sub000/internal/db"
	"github.com/martin3r-me/platforms-planner-sub000/internal/domain"
	"github.com/martin3r-me/platforms-planner-sub000/internal/migrate"
	"github.com/martin3r-me/platforms-planner-sub000/internal/policy"
	"github.com/martin3r-me/platforms-planner-sub000/internal/reasoner"
	"github.com/martin3r-me/platforms-planner-sub000/internal/repo"
	"github.com/martin3r-me/platforms-planner-sub000/internal/server"
	"github.com/martin3r-me/platforms-planner-sub000/internal/tool"
	"github.com/martin3r-me/platforms-planner-sub000/internal/tool/planner"
)

var rootCmd = &cobra.Command{
	Use:   "planner",
	Short: "Planner CLI",
	Long: `Planner manages team projects, boards, and tasks, and runs autonomous
batch passes that work the backlog through a tool-calling reasoner.
Tasks assigned to automated actors are picked up by 'planner batch run';
each one either gets completed or handed to a human with a note.`,
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
	viper.SetEnvPrefix("PLANNER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("team", "", "active team id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("team", rootCmd.PersistentFlags().Lookup("team"))
}

func registerCommands() {
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(teamCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
}

// openEnv opens the workspace database, applies migrations, and wires the
// service plus registry.
func openEnv() (*sql.DB, *planner.Service, *tool.Registry, error) {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, nil, err
	}
	svc := planner.NewService(conn, policy.Service{DB: conn})
	reg := tool.NewRegistry(slog.Default())
	planner.RegisterAll(reg, svc)
	return conn, svc, reg, nil
}

func localContext(ctx context.Context, svc *planner.Service) (tool.ExecutionContext, error) {
	actorID := viper.GetString("actor-id")
	actor, err := svc.Repo.GetActor(ctx, actorID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			actor = domain.Actor{ID: actorID, Name: actorID}
		} else {
			return tool.ExecutionContext{}, err
		}
	}
	return tool.ExecutionContext{Actor: actor, TeamID: viper.GetString("team")}, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Println("migrations applied:", db.Path(viper.GetString("workspace")))
			return nil
		},
	}
}

// newLoop builds the reasoning loop from config; a missing API key is not an
// error, it just means batch runs fall back every task to a human.
func newLoop(cfg *config.Config, reg *tool.Registry) (*reasoner.Loop, error) {
	key := cfg.APIKey()
	if key == "" {
		slog.Warn("no reasoner api key configured, batch runs will only hand tasks to humans", "env", cfg.Reasoner.APIKeyEnv)
		return nil, nil
	}
	provider, err := reasoner.NewOpenAIProvider(reasoner.OpenAIConfig{
		APIKey:  key,
		BaseURL: cfg.Reasoner.BaseURL,
		Model:   cfg.Reasoner.Model,
	})
	if err != nil {
		return nil, err
	}
	return &reasoner.Loop{
		Provider:        reasoner.NewBreakerProvider(provider, cfg.Reasoner.Breaker, slog.Default()),
		Registry:        reg,
		Model:           cfg.Reasoner.Model,
		MaxIterations:   cfg.Reasoner.MaxIterations,
		MaxOutputTokens: cfg.Reasoner.MaxOutputTokens,
	}, nil
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, svc, reg, err := openEnv()
			if err != nil {
				return err
			}
			defer conn.Close()
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			secret := os.Getenv("PLANNER_JWT_SECRET")
			if secret == "" {
				secret = cfg.Server.JWTSecret
			}
			if secret == "" {
				return fmt.Errorf("PLANNER_JWT_SECRET is required for bearer auth")
			}
			loop, err := newLoop(cfg, reg)
			if err != nil {
				return err
			}
			handler, err := server.New(server.Config{
				Service:      svc,
				Registry:     reg,
				Orchestrator: batch.New(svc, loop, slog.Default()),
				BasePath:     basePath,
				Auth:         server.AuthConfig{JWTSecret: secret},
			})
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
			fmt.Printf("Serving Planner API on http://%s%s\n", addr, basePath)
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

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "batch", Short: "Autonomous backlog processing"}
	cmd.AddCommand(batchRunCmd())
	cmd.AddCommand(batchDaemonCmd())
	return cmd
}

func batchConfigFromFlags(cfg *config.Config, cmd *cobra.Command) batch.Config {
	deadline, _ := cmd.Flags().GetDuration("deadline")
	if deadline <= 0 {
		deadline = cfg.Batch.Deadline
	}
	maxItems, _ := cmd.Flags().GetInt("max-items")
	if maxItems == 0 {
		maxItems = cfg.Batch.MaxItems
	}
	taskID, _ := cmd.Flags().GetString("task")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	return batch.Config{
		LockKey:  cfg.Batch.LockKey,
		LockTTL:  cfg.Batch.LockTTL,
		Deadline: deadline,
		MaxItems: maxItems,
		TaskID:   taskID,
		DryRun:   dryRun,
	}
}

func addBatchFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("deadline", 0, "run deadline (defaults to config)")
	cmd.Flags().Int("max-items", 0, "max tasks per run (0 = unlimited)")
	cmd.Flags().String("task", "", "process only this task id")
	cmd.Flags().Bool("dry-run", false, "select tasks without processing them")
}

func printReport(report batch.Report) error {
	if viper.GetBool("json") {
		return printJSON(report)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Locked", "Visited", "Completed", "Reassigned", "Fallen back", "Skipped", "Duration"})
	tw.AppendRow(table.Row{
		report.Locked, report.Visited, report.Completed,
		report.Reassigned, report.FallenBack, report.Skipped,
		report.Duration.Round(time.Millisecond),
	})
	tw.Render()
	return nil
}

func batchRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one batch pass over the backlog",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, svc, reg, err := openEnv()
			if err != nil {
				return err
			}
			defer conn.Close()
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			loop, err := newLoop(cfg, reg)
			if err != nil {
				return err
			}
			orch := batch.New(svc, loop, slog.Default())
			report, err := orch.Run(cmd.Context(), batchConfigFromFlags(cfg, cmd))
			if err != nil {
				return err
			}
			return printReport(report)
		},
	}
	addBatchFlags(cmd)
	return cmd
}

func batchDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run batch passes on a cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, svc, reg, err := openEnv()
			if err != nil {
				return err
			}
			defer conn.Close()
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			loop, err := newLoop(cfg, reg)
			if err != nil {
				return err
			}
			orch := batch.New(svc, loop, slog.Default())
			runCfg := batchConfigFromFlags(cfg, cmd)

			c := cron.New()
			_, err = c.AddFunc(cfg.Batch.Schedule, func() {
				report, err := orch.Run(cmd.Context(), runCfg)
				if err != nil {
					slog.Error("batch run failed", "error", err)
					return
				}
				slog.Info("batch run report",
					"locked", report.Locked,
					"visited", report.Visited,
					"completed", report.Completed,
					"reassigned", report.Reassigned,
					"fallen_back", report.FallenBack,
				)
			})
			if err != nil {
				return fmt.Errorf("schedule %q: %w", cfg.Batch.Schedule, err)
			}
			fmt.Printf("batch daemon running on schedule %q\n", cfg.Batch.Schedule)
			c.Start()
			<-cmd.Context().Done()
			<-c.Stop().Done()
			return nil
		},
	}
	addBatchFlags(cmd)
	return cmd
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tool catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, _, reg, err := openEnv()
			if err != nil {
				return err
			}
			defer conn.Close()
			catalog := reg.Catalog()
			if viper.GetBool("json") {
				return printJSON(catalog)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Name", "Category", "Risk", "Read-only"})
			for _, d := range catalog {
				tw.AppendRow(table.Row{d.Name, d.Metadata.Category, d.Metadata.Risk, d.Metadata.ReadOnly})
			}
			tw.Render()
			return nil
		},
	}
}

func actorCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "actor", Short: "Manage actors"}
	var name string
	var automated bool
	create := &cobra.Command{
		Use:   "create <id>",
		Short: "Create an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, svc, _, err := openEnv()
			if err != nil {
				return err
			}
			defer conn.Close()
			if name == "" {
				name = args[0]
			}
			actor := domain.Actor{
				ID:          args[0],
				Name:        name,
				IsAutomated: automated,
				CreatedAt:   time.Now().UTC().Format(time.RFC3339),
			}
			if err := svc.Repo.InsertActor(cmd.Context(), actor); err != nil {
				return err
			}
			return printJSON(actor)
		},
	}
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().BoolVar(&automated, "automated", false, "mark the actor as automated")
	cmd.AddCommand(create)
	return cmd
}

func teamCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "team", Short: "Manage teams"}
	var owner string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, svc, _, err := openEnv()
			if err != nil {
				return err
			}
			defer conn.Close()
			if owner == "" {
				owner = viper.GetString("actor-id")
			}
			team := domain.Team{
				ID:           uuid.New().String(),
				Name:         args[0],
				OwnerActorID: owner,
				CreatedAt:    time.Now().UTC().Format(time.RFC3339),
			}
			ctx := cmd.Context()
			tx, err := conn.BeginTx(ctx, nil)
			if err != nil {
				return err
			}
			defer tx.Rollback()
			if err := svc.Repo.EnsureActor(ctx, tx, owner, team.CreatedAt); err != nil {
				return err
			}
			if err := svc.Repo.InsertTeam(ctx, tx, team); err != nil {
				return err
			}
			if err := svc.Repo.AddTeamMember(ctx, tx, team.ID, owner, "owner"); err != nil {
				return err
			}
			if err := tx.Commit(); err != nil {
				return err
			}
			return printJSON(team)
		},
	}
	create.Flags().StringVar(&owner, "owner", "", "owner actor id (defaults to --actor-id)")
	cmd.AddCommand(create)
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var actorID, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the plaintext is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, svc, _, err := openEnv()
			if err != nil {
				return err
			}
			defer conn.Close()
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			plaintext := uuid.New().String() + uuid.New().String()
			key := domain.APIKey{
				ID:      uuid.New().String(),
				ActorID: actorID,
				Name:    name,
				KeyHash: repo.HashAPIKey(plaintext),
			}
			if err := svc.Repo.InsertAPIKey(cmd.Context(), nil, key); err != nil {
				return err
			}
			return printJSON(map[string]string{
				"id":      key.ID,
				"actor":   key.ActorID,
				"api_key": plaintext,
			})
		},
	}
	create.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates (defaults to --actor-id)")
	create.Flags().StringVar(&name, "name", "", "key label")
	cmd.AddCommand(create)
	return cmd
}

// invokeLocal runs a catalog tool with the CLI's actor and team scope.
func invokeLocal(cmd *cobra.Command, name string, args tool.Args) error {
	conn, svc, reg, err := openEnv()
	if err != nil {
		return err
	}
	defer conn.Close()
	ec, err := localContext(cmd.Context(), svc)
	if err != nil {
		return err
	}
	res := reg.Invoke(cmd.Context(), name, args, ec)
	if !res.Ok {
		if viper.GetBool("json") {
			printJSON(res)
		}
		return fmt.Errorf("%s: %s", res.Code, res.Message)
	}
	return printJSON(res.Data)
}

func projectCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "project", Short: "Manage projects"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List projects in the active team",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, svc, _, err := openEnv()
			if err != nil {
				return err
			}
			defer conn.Close()
			projects, err := svc.Repo.ListProjectsByTeam(cmd.Context(), viper.GetString("team"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(projects)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Name", "Status", "Created"})
			for _, p := range projects {
				tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.CreatedAt})
			}
			tw.Render()
			return nil
		},
	})
	var description string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project in the active team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return invokeLocal(cmd, "planner.project.create", tool.Args{
				"name":        args[0],
				"description": description,
			})
		},
	}
	create.Flags().StringVar(&description, "description", "", "project description")
	cmd.AddCommand(create)
	return cmd
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage tasks"}
	var projectID, assigneeID string
	var openOnly bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List tasks in the active team",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, svc, _, err := openEnv()
			if err != nil {
				return err
			}
			defer conn.Close()
			filters := repo.TaskFilters{
				TeamID:     viper.GetString("team"),
				ProjectID:  projectID,
				AssigneeID: assigneeID,
			}
			if openOnly {
				done := false
				filters.Done = &done
			}
			tasks, err := svc.Repo.ListTasks(cmd.Context(), filters)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(tasks)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Title", "Done", "Assignee", "Due"})
			for _, t := range tasks {
				assignee := ""
				if t.AssigneeID != nil {
					assignee = *t.AssigneeID
				}
				due := ""
				if t.DueAt != nil {
					due = *t.DueAt
				}
				tw.AppendRow(table.Row{t.ID, t.Title, t.Done, assignee, due})
			}
			tw.Render()
			return nil
		},
	}
	list.Flags().StringVar(&projectID, "project", "", "filter by project id")
	list.Flags().StringVar(&assigneeID, "assignee", "", "filter by assignee")
	list.Flags().BoolVar(&openOnly, "open", false, "only open tasks")
	cmd.AddCommand(list)

	var createProject, slotID, dueAt, taskAssignee string
	create := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskArgs := tool.Args{"title": args[0]}
			if createProject != "" {
				taskArgs["project_id"] = createProject
			}
			if slotID != "" {
				taskArgs["slot_id"] = slotID
			}
			if dueAt != "" {
				taskArgs["due_at"] = dueAt
			}
			if taskAssignee != "" {
				taskArgs["assignee_id"] = taskAssignee
			}
			return invokeLocal(cmd, "planner.task.create", taskArgs)
		},
	}
	create.Flags().StringVar(&createProject, "project", "", "project id (resolved automatically when the team has one project)")
	create.Flags().StringVar(&slotID, "slot", "", "slot id")
	create.Flags().StringVar(&dueAt, "due", "", "due timestamp (RFC 3339)")
	create.Flags().StringVar(&taskAssignee, "assignee", "", "assignee actor id")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "complete <id>",
		Short: "Mark a task done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return invokeLocal(cmd, "planner.task.complete", tool.Args{"task_id": args[0]})
		},
	})
	return cmd
}
