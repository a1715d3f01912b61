package ui

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"tasks/internal/config"
	"tasks/internal/editor"
	apperrors "tasks/internal/errors"
	"tasks/internal/reminder"
	"tasks/internal/storage"
)

const ioTimeout = 5 * time.Second

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	overdueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Store is what the list screen and the editors it opens need.
// *storage.Store satisfies it.
type Store interface {
	editor.Store
	List(ctx context.Context) ([]storage.Task, error)
	Delete(ctx context.Context, id int64) error
}

// ReminderFiredMsg carries a fired reminder into the program.
type ReminderFiredMsg struct {
	Notification reminder.Notification
}

type tasksLoadedMsg struct {
	tasks []storage.Task
	err   error
}

type listChangedMsg struct {
	open bool
}

type Model struct {
	store     Store
	scheduler reminder.Scheduler
	cfg       config.Config
	now       func() time.Time

	tasks      []storage.Task
	cursor     int
	editor     *editor.Model
	confirmDel bool
	pendingDel *storage.Task
	selectID   int64
	status     string
	width      int

	changes <-chan storage.Change
	release func()
}

type Option func(*Model)

func WithClock(now func() time.Time) Option {
	return func(m *Model) { m.now = now }
}

func New(store Store, cfg config.Config, scheduler reminder.Scheduler, opts ...Option) Model {
	m := Model{
		store:     store,
		scheduler: scheduler,
		cfg:       cfg,
		now:       time.Now,
		status:    fmt.Sprintf("Press '%s' to add, '%s' to edit, '%s' to delete.", cfg.Keys.Add, cfg.Keys.Edit, cfg.Keys.Delete),
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.changes, m.release = store.Subscribe()
	return m
}

// Run shows the task list until the user quits. Reminders fire in the
// background and are shown in the status line; remote, when not nil,
// receives every reminder the local manager does.
func Run(ctx context.Context, store *storage.Store, cfg config.Config, remote reminder.Scheduler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var program *tea.Program
	notify := reminder.NotifierFunc(func(_ context.Context, n reminder.Notification) error {
		program.Send(ReminderFiredMsg{Notification: n})
		return nil
	})
	mgr := reminder.NewManager(store,
		reminder.WithNotifier(notify),
		reminder.WithIdleInterval(cfg.Reminders.Interval()),
	)

	var scheduler reminder.Scheduler = mgr
	if remote != nil {
		scheduler = reminder.Multi{mgr, remote}
	}

	program = tea.NewProgram(New(store, cfg, scheduler), tea.WithContext(ctx))
	go mgr.Run(ctx)
	go func() {
		if err := store.Watch(ctx, cfg.Reminders.Interval()); err != nil {
			log.Printf("watch: %v", err)
		}
	}()

	_, err := program.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadTasks(), m.waitForChange())
}

func (m Model) loadTasks() tea.Cmd {
	store := m.store
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
		defer cancel()
		tasks, err := store.List(ctx)
		return tasksLoadedMsg{tasks: tasks, err: err}
	}
}

func (m Model) waitForChange() tea.Cmd {
	ch := m.changes
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		_, ok := <-ch
		return listChangedMsg{open: ok}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tasksLoadedMsg:
		if msg.err != nil {
			m.status = "reload failed: " + apperrors.GetUserMessage(msg.err)
			return m, nil
		}
		m.tasks = msg.tasks
		if m.selectID != 0 {
			m.selectTask(m.selectID)
			m.selectID = 0
		}
		m.cursor = clampCursor(m.cursor, len(m.tasks))
		return m, nil
	case listChangedMsg:
		if !msg.open {
			return m, nil
		}
		return m, tea.Batch(m.loadTasks(), m.waitForChange())
	case ReminderFiredMsg:
		m.status = reminder.FormatNotification(msg.Notification)
		return m, nil
	case editor.FinishedMsg:
		return m.onEditFinished(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
	}

	if m.editor != nil {
		next, cmd := m.editor.Update(msg)
		e := next.(editor.Model)
		m.editor = &e
		return m, cmd
	}

	if msg, ok := msg.(tea.KeyMsg); ok {
		if m.confirmDel {
			return m.updateDeleteConfirm(msg.String())
		}
		return m.updateListMode(msg.String())
	}
	return m, nil
}

func (m Model) onEditFinished(msg editor.FinishedMsg) (tea.Model, tea.Cmd) {
	m.editor = nil
	switch {
	case msg.Err != nil:
		m.status = "edit aborted: " + apperrors.GetUserMessage(msg.Err)
	case msg.Saved && msg.ReminderErr != nil:
		m.status = fmt.Sprintf("Task saved, but the reminder failed: %v", msg.ReminderErr)
	case msg.Saved:
		m.status = "Task saved"
	default:
		m.status = "Edit closed"
	}
	if msg.Saved {
		m.selectID = msg.TaskID
	}
	return m, m.loadTasks()
}

func (m *Model) selectTask(id int64) {
	for i, t := range m.tasks {
		if t.ID == id {
			m.cursor = i
			return
		}
	}
}

func (m Model) openEditor(id int64) (tea.Model, tea.Cmd) {
	e := editor.New(id, m.store, m.scheduler,
		editor.WithPreferences(m.cfg.Preferences),
		editor.WithKeys(m.cfg.Keys),
		editor.WithClock(m.now),
	)
	if m.width > 0 {
		next, _ := e.Update(tea.WindowSizeMsg{Width: m.width})
		e = next.(editor.Model)
	}
	m.editor = &e
	return m, e.Init()
}

func (m Model) updateListMode(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "ctrl+c", m.cfg.Keys.Quit:
		m.release()
		return m, tea.Quit
	case m.cfg.Keys.Down, "down":
		if len(m.tasks) == 0 {
			return m, nil
		}
		m.cursor = clampCursor(m.cursor+1, len(m.tasks))
	case m.cfg.Keys.Up, "up":
		if m.cursor > 0 {
			m.cursor = clampCursor(m.cursor-1, len(m.tasks))
		}
	case m.cfg.Keys.Add:
		return m.openEditor(0)
	case m.cfg.Keys.Edit, m.cfg.Keys.Confirm:
		if len(m.tasks) == 0 {
			m.status = "No tasks to edit"
			return m, nil
		}
		return m.openEditor(m.tasks[m.cursor].ID)
	case m.cfg.Keys.Delete:
		if len(m.tasks) == 0 {
			return m, nil
		}
		t := m.tasks[m.cursor]
		m.confirmDel = true
		m.pendingDel = &t
		m.status = fmt.Sprintf("Delete \"%s\"? y/n", t.Title)
	}
	return m, nil
}

func (m Model) updateDeleteConfirm(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "n", "N", "esc":
		m.status = "Delete cancelled"
		m.confirmDel = false
		m.pendingDel = nil
		return m, nil
	case "y", "Y":
		id := m.pendingDel.ID
		m.confirmDel = false
		m.pendingDel = nil
		ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
		defer cancel()
		if err := m.store.Delete(ctx, id); err != nil {
			m.status = "delete failed: " + apperrors.GetUserMessage(err)
			return m, nil
		}
		m.status = "Deleted task"
		return m, m.loadTasks()
	default:
		return m, nil
	}
}

func (m Model) View() string {
	if m.editor != nil {
		return m.editor.View() + "\n\n" + mutedStyle.Render(m.status)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Tasks"))
	b.WriteString("\n\n")

	if len(m.tasks) == 0 {
		b.WriteString(fmt.Sprintf("No tasks yet. Press '%s' to add one.", m.cfg.Keys.Add))
	} else {
		b.WriteString(m.renderTaskList())
	}

	b.WriteString("\n---\n")
	b.WriteString(m.renderDetailPanel())
	b.WriteString("\n\n")
	b.WriteString(m.status)
	b.WriteString("\n")
	b.WriteString(renderHelp(m.cfg.Keys))
	return b.String()
}

func renderHelp(k config.Keymap) string {
	return mutedStyle.Render(fmt.Sprintf("%s/%s move • %s add • %s/%s edit • %s delete • %s quit",
		k.Up, k.Down, k.Add, k.Edit, k.Confirm, k.Delete, k.Quit))
}

func (m Model) renderTaskList() string {
	var b strings.Builder
	now := m.now()
	for i, t := range m.tasks {
		cursor := " "
		if m.cursor == i {
			cursor = ">"
		}
		due := t.Due.Format(editor.DateFormat + " " + editor.TimeFormat)
		if t.Due.Before(now) {
			due = overdueStyle.Render(due)
		}
		b.WriteString(fmt.Sprintf("%s %s  %s\n", cursor, due, t.Title))
	}
	return b.String()
}

func (m Model) renderDetailPanel() string {
	if len(m.tasks) == 0 {
		return "No task selected"
	}
	t := m.tasks[clampCursor(m.cursor, len(m.tasks))]
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Title : %s\n", emptyPlaceholder(t.Title)))
	b.WriteString(fmt.Sprintf("Due   : %s\n", t.Due.Format(editor.DateFormat+" "+editor.TimeFormat)))
	b.WriteString(fmt.Sprintf("Body  : %s\n", emptyPlaceholder(t.Body)))
	return b.String()
}

func emptyPlaceholder(v string) string {
	if strings.TrimSpace(v) == "" {
		return "(empty)"
	}
	return v
}

func clampCursor(cur, n int) int {
	if n <= 0 {
		return 0
	}
	if cur < 0 {
		return 0
	}
	if cur >= n {
		return n - 1
	}
	return cur
}
