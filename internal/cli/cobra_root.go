package cli

import (
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"

	"tasks/internal/ui"
)

const commandTimeout = 30 * time.Second

// RootCommand is the tasks command line. Without a subcommand it opens the
// task list.
type RootCommand struct {
	cmd        *cobra.Command
	out        io.Writer
	configPath string
	now        func() time.Time

	app *App
}

func NewRootCommand(out io.Writer) *RootCommand {
	r := &RootCommand{out: out, now: time.Now}

	r.cmd = &cobra.Command{
		Use:   "tasks",
		Short: "Terminal task list with due dates and reminders",
		Long: `tasks keeps a list of tasks with a title, notes and a due date and time.
Each saved task arms a reminder that fires when the task is due.

EXAMPLES:
  tasks                                        # Open the task list
  tasks new                                    # Open the editor for a new task
  tasks edit 3                                 # Edit task #3
  tasks add --title "Pay rent" --due "2026-11-01 09:00"
  tasks list                                   # Print all tasks
  tasks rm 3                                   # Delete task #3
  tasks remind                                 # Print reminders as they fire

CONFIGURATION:
  The config file is created with defaults on first run. It is looked up in
  --config, $TASKS_CONFIG, $XDG_CONFIG_HOME/tasks/config.toml, then
  ~/.config/tasks/config.toml. A .env file in the working directory is loaded
  first. Environment overrides:
    TASKS_DB_PATH                  Database file
    TASKS_DEFAULT_TITLE            Title of new tasks
    TASKS_DEFAULT_TIME_FROM_NOW    Minutes between now and the due time of new tasks
    TASKS_DEBUG                    Write a debug log next to the config file`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := r.app.startLogging(true); err != nil {
				return err
			}
			remote, err := r.app.remote(cmd.Context())
			if err != nil {
				return err
			}
			return ui.Run(cmd.Context(), r.app.store, r.app.cfg, remote)
		},
	}

	r.cmd.PersistentFlags().StringVar(&r.configPath, "config", "", "Config file (overrides TASKS_CONFIG)")
	r.cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		app, err := openApp(r.configPath, r.out)
		if err != nil {
			return err
		}
		r.app = app
		return nil
	}
	r.cmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		return r.close()
	}
	r.cmd.SetOut(out)

	r.addSubcommands()
	return r
}

// Execute runs the command line. The database is closed even when the
// command fails.
func (r *RootCommand) Execute(ctx context.Context, args []string) error {
	r.cmd.SetArgs(args)
	err := r.cmd.ExecuteContext(ctx)
	if cerr := r.close(); err == nil {
		err = cerr
	}
	return err
}

func (r *RootCommand) close() error {
	if r.app == nil {
		return nil
	}
	app := r.app
	r.app = nil
	return app.Close()
}

func (r *RootCommand) addSubcommands() {
	var add addOptions
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task without opening the editor",
		Long: `Add a task and arm its reminder.

Without --title the configured default title is used. Without --due the task
is due now plus the configured default_time_from_now minutes.

Example:
  tasks add --title "Dentist" --body "bring card" --due "2026-11-03 08:30"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			return r.app.addTask(ctx, add, r.now())
		},
	}
	addCmd.Flags().StringVar(&add.title, "title", "", "Task title")
	addCmd.Flags().StringVar(&add.body, "body", "", "Task notes")
	addCmd.Flags().StringVar(&add.due, "due", "", `Due time as "2006-01-02 15:04"`)

	newCmd := &cobra.Command{
		Use:   "new",
		Short: "Open the editor for a new task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := r.app.startLogging(true); err != nil {
				return err
			}
			return r.app.editTask(cmd.Context(), 0)
		},
	}

	editCmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Open the editor for an existing task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return handleError("edit task", err)
			}
			if err := r.app.startLogging(true); err != nil {
				return err
			}
			return r.app.editTask(cmd.Context(), id)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print all tasks, earliest due first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			return r.app.listTasks(ctx, r.now())
		},
	}

	rmCmd := &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a task and its reminder",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			return r.app.removeTask(ctx, args[0])
		},
	}

	var once bool
	remindCmd := &cobra.Command{
		Use:   "remind",
		Short: "Print reminders as they come due",
		Long: `Run in the foreground and print each reminder when its task is due.
Reminders armed by other tasks processes are picked up while it runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := r.app.startLogging(false); err != nil {
				return err
			}
			return r.app.runReminders(cmd.Context(), once)
		},
	}
	remindCmd.Flags().BoolVar(&once, "once", false, "Fire reminders that are already due and exit")

	r.cmd.AddCommand(addCmd, newCmd, editCmd, listCmd, rmCmd, remindCmd)
}
