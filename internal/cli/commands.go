package cli

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"tasks/internal/editor"
	apperrors "tasks/internal/errors"
	"tasks/internal/reminder"
	"tasks/internal/storage"
)

const dueLayout = editor.DateFormat + " " + editor.TimeFormat

// handleError turns application errors into the message shown to the user.
func handleError(operation string, err error) error {
	if _, ok := apperrors.AsAppError(err); ok {
		return fmt.Errorf("failed to %s: %s", operation, apperrors.GetUserMessage(err))
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewInvalidInputError("id", arg, "must be a positive number")
	}
	return id, nil
}

type addOptions struct {
	title string
	body  string
	due   string
}

// addTask stores a task without opening the editor and arms its reminder.
func (a *App) addTask(ctx context.Context, opts addOptions, now time.Time) error {
	prefs := a.cfg.Preferences
	title := opts.title
	if title == "" {
		title = prefs.DefaultTitle
	}

	var due time.Time
	if opts.due != "" {
		t, err := time.ParseInLocation(dueLayout, opts.due, time.Local)
		if err != nil {
			return handleError("add task", apperrors.NewInvalidInputError("due", opts.due, "expected "+dueLayout))
		}
		due = t
	} else {
		offset, err := prefs.DefaultOffset()
		if err != nil {
			return handleError("add task", err)
		}
		due = now.Truncate(time.Minute).Add(offset)
	}

	_, sched, err := a.scheduler(ctx)
	if err != nil {
		return err
	}
	id, err := editor.Save(ctx, a.store, storage.Task{Title: title, Body: opts.body, Due: due})
	if err != nil {
		return handleError("add task", err)
	}
	fmt.Fprintf(a.out, "Added task #%d due %s\n", id, due.Format(dueLayout))
	if err := sched.Schedule(ctx, id, due); err != nil {
		return handleError("schedule reminder", err)
	}
	return nil
}

func (a *App) listTasks(ctx context.Context, now time.Time) error {
	tasks, err := a.store.List(ctx)
	if err != nil {
		return handleError("list tasks", err)
	}
	if len(tasks) == 0 {
		fmt.Fprintln(a.out, "No tasks.")
		return nil
	}
	for _, t := range tasks {
		mark := ""
		if t.Due.Before(now) {
			mark = "  (overdue)"
		}
		title := t.Title
		if strings.TrimSpace(title) == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(a.out, "#%-4d %s  %s%s\n", t.ID, t.Due.Format(dueLayout), title, mark)
	}
	return nil
}

func (a *App) removeTask(ctx context.Context, arg string) error {
	id, err := parseID(arg)
	if err != nil {
		return handleError("delete task", err)
	}
	if err := a.store.Delete(ctx, id); err != nil {
		return handleError("delete task", err)
	}
	fmt.Fprintf(a.out, "Deleted task #%d\n", id)
	return nil
}

// runReminders fires reminders until ctx is cancelled, or once when once
// is set.
func (a *App) runReminders(ctx context.Context, once bool) error {
	notifier := &reminder.WriterNotifier{W: a.out, Bell: a.cfg.Reminders.Bell}
	mgr := reminder.NewManager(a.store,
		reminder.WithNotifier(notifier),
		reminder.WithIdleInterval(a.cfg.Reminders.Interval()),
	)
	if once {
		if _, err := mgr.FireDue(ctx); err != nil {
			return handleError("fire reminders", err)
		}
		return nil
	}

	fmt.Fprintln(a.out, "Waiting for reminders. Press Ctrl+C to stop.")
	a.watch(ctx)
	return mgr.Run(ctx)
}

// watch publishes changes made by other processes until ctx is done.
func (a *App) watch(ctx context.Context) {
	go func() {
		if err := a.store.Watch(ctx, a.cfg.Reminders.Interval()); err != nil {
			log.Printf("watch: %v", err)
		}
	}()
}

// editTask runs the editor on its own until it finishes. id 0 creates a
// new task.
func (a *App) editTask(ctx context.Context, id int64) error {
	if id != 0 {
		if _, err := a.store.Get(ctx, id); err != nil {
			return handleError("edit task", err)
		}
	}
	_, sched, err := a.scheduler(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.watch(ctx)

	e := editor.New(id, a.store, sched,
		editor.WithPreferences(a.cfg.Preferences),
		editor.WithKeys(a.cfg.Keys),
	)
	final, err := tea.NewProgram(editorHost{editor: e}, tea.WithContext(ctx)).Run()
	if err != nil {
		return err
	}

	fm := final.(editorHost).finished
	switch {
	case fm == nil:
		return nil
	case fm.Err != nil:
		return handleError("save task", fm.Err)
	case fm.Saved:
		fmt.Fprintf(a.out, "Task #%d saved\n", fm.TaskID)
		if fm.ReminderErr != nil {
			return handleError("schedule reminder", fm.ReminderErr)
		}
	case id != 0:
		fmt.Fprintf(a.out, "Task #%d was not changed\n", id)
	}
	return nil
}

// editorHost runs a single editor and quits when it finishes.
type editorHost struct {
	editor   editor.Model
	finished *editor.FinishedMsg
}

func (h editorHost) Init() tea.Cmd {
	return h.editor.Init()
}

func (h editorHost) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if fm, ok := msg.(editor.FinishedMsg); ok {
		h.finished = &fm
		return h, tea.Quit
	}
	next, cmd := h.editor.Update(msg)
	h.editor = next.(editor.Model)
	return h, cmd
}

func (h editorHost) View() string {
	if h.finished != nil {
		return ""
	}
	return h.editor.View()
}
