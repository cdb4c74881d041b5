package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"taskboard/internal/app"
	"taskboard/internal/config"
	"taskboard/internal/logging"
	taskboardsdk "taskboard/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "tb",
	Short: "Taskboard CLI",
	Long: `Taskboard is a shared board of projects and tasks that several people edit at once.
Core concepts:
- Project: a named group of tasks with an event log of everything that happened to it.
- Task: a unit of work with status todo, in_progress or done, a priority and optional dependencies.
- Dependencies: a task may only leave todo once every task it depends on is done; todo is always allowed.
- Event log: every change is recorded per project; 'tb undo' reverts the latest status change.
- Live feed: 'tb watch' prints changes to a project as they happen.
The board lives in memory of 'tb serve'; the other commands talk to that server.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config-dir", "c", ".", "directory holding taskboard.yml")
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "taskboard server URL")
	rootCmd.PersistentFlags().String("base-path", "/v0", "API base path")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("config-dir", rootCmd.PersistentFlags().Lookup("config-dir"))
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("base-path", rootCmd.PersistentFlags().Lookup("base-path"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(undoCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(configCmd())
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the board and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := viper.GetString("config-dir")
			cfg, err := config.LoadOptional(dir)
			if err != nil {
				return err
			}
			applyServeFlags(cfg, cmd.Flags(), viper.GetViper())
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt, err := app.Build(ctx, dir, cfg, logger)
			if err != nil {
				return err
			}
			if _, err := os.Stat(config.Path(dir)); err == nil {
				go func() {
					if err := rt.WatchConfig(ctx, config.Path(dir)); err != nil {
						logger.Warn().Err(err).Msg("config watcher stopped")
					}
				}()
			}
			ln, err := net.Listen("tcp", cfg.Server.Addr)
			if err != nil {
				return err
			}
			logger.Info().
				Str("addr", ln.Addr().String()).
				Str("base_path", cfg.Server.BasePath).
				Bool("allow_reset", cfg.Server.AllowReset).
				Bool("rate_limit", cfg.RateLimit.Enabled).
				Int("webhooks", len(cfg.Webhooks)).
				Msg("serving taskboard API (OpenAPI at openapi.json, Swagger UI at /docs, metrics at /metrics)")
			return rt.Serve(ctx, ln)
		},
	}
	cmd.Flags().String("addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().Bool("allow-reset", false, "expose POST /admin/reset")
	return cmd
}

// applyServeFlags overlays flags the user actually set onto the file config.
// base-path comes through v so TASKBOARD_BASE_PATH counts as set too.
func applyServeFlags(cfg *config.Config, flags *pflag.FlagSet, v *viper.Viper) {
	if flags.Changed("addr") {
		cfg.Server.Addr, _ = flags.GetString("addr")
	}
	if flags.Changed("allow-reset") {
		cfg.Server.AllowReset, _ = flags.GetBool("allow-reset")
	}
	if v.IsSet("base-path") {
		cfg.Server.BasePath = v.GetString("base-path")
	}
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Inspect projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			projects, err := newClient().ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(projects)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"ID", "Name", "Tasks", "Description"})
			for _, p := range projects {
				tw.AppendRow(table.Row{p.ID, p.Name, len(p.Tasks), p.Description})
			}
			tw.Render()
			return nil
		},
	}
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project with its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newClient().GetProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(p)
			}
			fmt.Printf("Project: %s (%s)\n", p.Name, p.ID)
			if p.Description != "" {
				fmt.Println(p.Description)
			}
			printTasks(p.Tasks)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <project-id>",
		Short: "Show task counts by status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newClient().GetProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			counts := map[string]int{"todo": 0, "in_progress": 0, "done": 0}
			for _, t := range p.Tasks {
				counts[t.Status]++
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"project_id": p.ID, "task_counts": counts})
			}
			fmt.Printf("Project: %s (%s)\n", p.Name, p.ID)
			fmt.Println("Tasks:")
			for _, status := range []string{"todo", "in_progress", "done"} {
				fmt.Printf("  %s: %d\n", status, counts[status])
			}
			return nil
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskStatusCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List tasks of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := newClient().ListTasks(cmd.Context(), args[0], status)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(tasks)
			}
			printTasks(tasks)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := newClient().GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(t)
		},
	}
}

func taskCreateCmd() *cobra.Command {
	var in taskboardsdk.CreateTaskInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := newClient().CreateTask(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSONOrTable(t)
		},
	}
	cmd.Flags().StringVar(&in.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&in.Title, "title", "", "task title")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringSliceVar(&in.AssignedTo, "assignee", nil, "assignee (repeatable)")
	cmd.Flags().StringVar(&in.Priority, "priority", "", "low, medium or high")
	cmd.Flags().StringSliceVar(&in.Tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().StringToStringVar(&in.CustomFields, "field", nil, "custom field key=value")
	cmd.Flags().StringSliceVar(&in.Dependencies, "depends-on", nil, "task ids that must be done first")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id> <todo|in_progress|done>",
		Short: "Move a task to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := newClient().UpdateTaskStatus(cmd.Context(), args[0], args[1])
			if err != nil {
				var apiErr *taskboardsdk.APIError
				if taskboardsdk.IsBlocked(err) && errors.As(err, &apiErr) {
					return errors.New(apiErr.Message)
				}
				return err
			}
			return printJSONOrTable(t)
		},
	}
}

func commentCmd() *cobra.Command {
	c := &cobra.Command{Use: "comment", Short: "Manage task comments"}
	c.AddCommand(commentListCmd())
	c.AddCommand(commentAddCmd())
	return c
}

func commentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <task-id>",
		Short: "List comments on a task, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comments, err := newClient().ListComments(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(comments)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"ID", "Author", "When", "Content"})
			for _, c := range comments {
				tw.AppendRow(table.Row{c.ID, c.Author, c.Timestamp.Format("2006-01-02 15:04:05"), c.Content})
			}
			tw.Render()
			return nil
		},
	}
}

func commentAddCmd() *cobra.Command {
	var author string
	cmd := &cobra.Command{
		Use:   "add <task-id> <content>",
		Short: "Comment on a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient().AddComment(cmd.Context(), args[0], args[1], author)
			if err != nil {
				return err
			}
			return printJSONOrTable(c)
		},
	}
	cmd.Flags().StringVar(&author, "author", "", "author name (default Anonymous)")
	return cmd
}

func logCmd() *cobra.Command {
	var evtType string
	var n int
	cmd := &cobra.Command{
		Use:   "log <project-id>",
		Short: "Show the project event log, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := newClient().Events(cmd.Context(), args[0], evtType)
			if err != nil {
				return err
			}
			if n > 0 && len(events) > n {
				events = events[:n]
			}
			if viper.GetBool("json") {
				return printJSON(events)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"ID", "When", "Type", "Message", "Reverted"})
			for _, e := range events {
				reverted := ""
				if e.Reverted {
					reverted = "yes"
				}
				tw.AppendRow(table.Row{e.ID, e.Timestamp.Format("2006-01-02 15:04:05"), e.Type, e.Message, reverted})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().IntVar(&n, "n", 20, "number of events (0 for all)")
	return cmd
}

func undoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undo <project-id>",
		Short: "Revert the most recent status change in a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := newClient().Undo(cmd.Context(), args[0])
			if err != nil {
				var apiErr *taskboardsdk.APIError
				if errors.As(err, &apiErr) && apiErr.Code == "nothing_to_undo" {
					fmt.Println(apiErr.Message)
					return nil
				}
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			fmt.Println(res.Message)
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <project-id>",
		Short: "Print project changes as they happen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := newClient().Watch(cmd.Context(), args[0], func(n taskboardsdk.Notification) error {
				if viper.GetBool("json") {
					return printJSON(n)
				}
				fmt.Printf("%s %s\n", n.Type, string(n.Data))
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect server config",
		Long:  "taskboard.yml holds the server address, live-stream settings, rate limits, logging, the seed file and outbound webhooks.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("config-dir"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := cfg.Marshal()
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default taskboard.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("config-dir"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate taskboard.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("config-dir"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

// --- helpers ---

func newClient() *taskboardsdk.Client {
	c := taskboardsdk.New(viper.GetString("server"))
	c.BasePath = viper.GetString("base-path")
	return c
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printTasks(tasks []taskboardsdk.Task) {
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Assignees", "Depends on"})
	for _, t := range tasks {
		tw.AppendRow(table.Row{
			t.ID,
			t.Title,
			t.Status,
			t.Configuration.Priority,
			strings.Join(t.AssignedTo, ", "),
			strings.Join(t.Dependencies, ", "),
		})
	}
	tw.Render()
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
