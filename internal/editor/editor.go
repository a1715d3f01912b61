// Package editor implements the task edit screen: title and body fields,
// date and time buttons backed by picker dialogs, and a save button that
// stores the task and arms its reminder.
package editor

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"tasks/internal/config"
	apperrors "tasks/internal/errors"
	"tasks/internal/reminder"
	"tasks/internal/storage"
)

// Labels of the date and time buttons.
const (
	DateFormat = "2006-01-02"
	TimeFormat = "15:04"

	ioTimeout = 5 * time.Second
)

var (
	colorAccent = lipgloss.Color("69")
	colorMuted  = lipgloss.Color("241")

	headerStyle   = lipgloss.NewStyle().Bold(true)
	labelStyle    = lipgloss.NewStyle().Width(7)
	mutedStyle    = lipgloss.NewStyle().Foreground(colorMuted)
	selectedStyle = lipgloss.NewStyle().Reverse(true)
	buttonStyle   = lipgloss.NewStyle().Padding(0, 1).Border(lipgloss.NormalBorder()).BorderForeground(colorMuted)
	focusedButton = buttonStyle.BorderForeground(colorAccent).Foreground(colorAccent).Bold(true)
	dialogStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorAccent).Padding(0, 1)
)

// Store is the task persistence the editor needs. *storage.Store
// satisfies it.
type Store interface {
	Saver
	Find(ctx context.Context, id int64) (storage.Task, bool, error)
	Subscribe() (<-chan storage.Change, func())
}

// FinishedMsg tells the host that the editor is done. Saved is false when
// the user cancelled or the task disappeared. Err is set when the save
// failed in a way the editor cannot recover from. ReminderErr reports a
// reminder that could not be armed for a task that was saved.
type FinishedMsg struct {
	TaskID      int64
	Saved       bool
	Err         error
	ReminderErr error
}

// sessions numbers editors so messages left over from a closed editor are
// not taken by the next one.
var sessions atomic.Uint64

type taskLoadedMsg struct {
	session uint64
	id      int64
	task    storage.Task
	found   bool
	err     error
}

type taskChangedMsg struct {
	session uint64
	change  storage.Change
	open    bool
}

type savedMsg struct {
	session     uint64
	id          int64
	reminderErr error
}

type saveFailedMsg struct {
	session uint64
	err     error
}

type field int

const (
	fieldTitle field = iota
	fieldBody
	fieldDate
	fieldTime
	fieldConfirm
	fieldCount
)

// Model is the edit screen of a single task.
type Model struct {
	session   uint64
	store     Store
	scheduler reminder.Scheduler
	keys      config.Keymap
	prefs     config.Preferences
	now       func() time.Time

	taskID int64
	due    time.Time
	// updatedAt is the UpdatedAt of the row last copied into the fields.
	updatedAt time.Time
	loaded    bool

	title textinput.Model
	body  textarea.Model
	focus field

	datePicker *datePicker
	timePicker *timePicker

	changes <-chan storage.Change
	release func()

	loading bool
	saving  bool
	done    bool
	status  string
}

// Option configures a Model.
type Option func(*Model)

// WithPreferences seeds new tasks with the default title and due offset.
func WithPreferences(p config.Preferences) Option {
	return func(m *Model) { m.prefs = p }
}

// WithKeys takes the editor keys from k. Keys left empty keep their
// defaults.
func WithKeys(k config.Keymap) Option {
	return func(m *Model) {
		d := defaultKeys()
		m.keys = config.Keymap{
			Confirm: firstNonEmpty(k.Confirm, d.Confirm),
			Cancel:  firstNonEmpty(k.Cancel, d.Cancel),
			Next:    firstNonEmpty(k.Next, d.Next),
			Prev:    firstNonEmpty(k.Prev, d.Prev),
		}
	}
}

func firstNonEmpty(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Model) { m.now = now }
}

// WithDue restores a due time kept from an earlier editor for the same
// task, so a re-created screen does not lose the user's pick.
func WithDue(due time.Time) Option {
	return func(m *Model) { m.due = due }
}

// New creates an editor for taskID, or for a new task when taskID is 0.
// An existing task is loaded by Init.
func New(taskID int64, store Store, scheduler reminder.Scheduler, opts ...Option) Model {
	ti := textinput.New()
	ti.Placeholder = "Title"
	ti.CharLimit = 256
	ti.Width = 40

	ta := textarea.New()
	ta.Placeholder = "Notes"
	ta.ShowLineNumbers = false
	ta.SetWidth(48)
	ta.SetHeight(5)

	m := Model{
		session:   sessions.Add(1),
		store:     store,
		scheduler: scheduler,
		keys:      defaultKeys(),
		now:       time.Now,
		taskID:    taskID,
		title:     ti,
		body:      ta,
	}
	for _, opt := range opts {
		opt(&m)
	}

	restored := !m.due.IsZero()
	if !restored {
		m.due = m.now().Truncate(time.Minute)
	}

	if taskID == 0 {
		m.applyDefaults(restored)
	} else {
		m.loading = true
		m.status = "Loading..."
		m.changes, m.release = store.Subscribe()
	}
	m.setFocus(fieldTitle)
	return m
}

func defaultKeys() config.Keymap {
	return config.Keymap{Confirm: "enter", Cancel: "esc", Next: "tab", Prev: "shift+tab"}
}

func (m *Model) applyDefaults(restored bool) {
	if m.prefs.DefaultTitle != "" {
		m.title.SetValue(m.prefs.DefaultTitle)
	}
	if restored {
		return
	}
	offset, err := m.prefs.DefaultOffset()
	if err != nil {
		m.status = fmt.Sprintf("ignoring preference: %v", err)
		return
	}
	m.due = m.due.Add(offset)
}

func (m Model) Init() tea.Cmd {
	if m.taskID == 0 {
		return textinput.Blink
	}
	return tea.Batch(textinput.Blink, m.loadCmd(), m.waitForChange())
}

func (m Model) loadCmd() tea.Cmd {
	store, id, session := m.store, m.taskID, m.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
		defer cancel()
		t, ok, err := store.Find(ctx, id)
		return taskLoadedMsg{session: session, id: id, task: t, found: ok, err: err}
	}
}

func (m Model) waitForChange() tea.Cmd {
	ch, session := m.changes, m.session
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		c, ok := <-ch
		return taskChangedMsg{session: session, change: c, open: ok}
	}
}

func (m Model) saveCmd() tea.Cmd {
	store, scheduler, session := m.store, m.scheduler, m.session
	draft := storage.Task{
		ID:    m.taskID,
		Title: m.title.Value(),
		Body:  m.body.Value(),
		Due:   m.due,
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
		defer cancel()
		id, err := Save(ctx, store, draft)
		if err != nil {
			return saveFailedMsg{session: session, err: err}
		}
		var reminderErr error
		if scheduler != nil {
			reminderErr = scheduler.Schedule(ctx, id, draft.Due)
		}
		return savedMsg{session: session, id: id, reminderErr: reminderErr}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.done {
		return m, nil
	}
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if w := msg.Width - 12; w > 10 {
			m.title.Width = w
			m.body.SetWidth(w)
		}
		return m, nil
	case taskLoadedMsg:
		if msg.session != m.session {
			return m, nil
		}
		return m.onLoaded(msg)
	case taskChangedMsg:
		if msg.session != m.session || !msg.open {
			return m, nil
		}
		if msg.change.Affects(m.taskID) {
			return m, tea.Batch(m.loadCmd(), m.waitForChange())
		}
		return m, m.waitForChange()
	case savedMsg:
		if msg.session != m.session {
			return m, nil
		}
		m.saving = false
		m.taskID = msg.id
		m.status = "Task saved"
		return m.finish(FinishedMsg{TaskID: msg.id, Saved: true, ReminderErr: msg.reminderErr})
	case saveFailedMsg:
		if msg.session != m.session {
			return m, nil
		}
		m.saving = false
		if apperrors.IsIllegalState(msg.err) {
			return m.finish(FinishedMsg{TaskID: m.taskID, Err: msg.err})
		}
		m.status = "save failed: " + apperrors.GetUserMessage(msg.err)
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, m.updateFocused(msg)
}

// onLoaded fills the fields from the stored row. A missing row means the
// task was deleted under us, which closes the editor. A row that has not
// changed since the last load leaves the fields, and any unsaved edits in
// them, alone.
func (m Model) onLoaded(msg taskLoadedMsg) (tea.Model, tea.Cmd) {
	if msg.id != m.taskID {
		return m, nil
	}
	m.loading = false
	if msg.err != nil {
		m.status = "load failed: " + apperrors.GetUserMessage(msg.err)
		return m, nil
	}
	if !msg.found {
		return m.finish(FinishedMsg{TaskID: m.taskID})
	}
	if m.loaded && msg.task.UpdatedAt.Equal(m.updatedAt) {
		return m, nil
	}
	m.loaded = true
	m.updatedAt = msg.task.UpdatedAt
	m.title.SetValue(msg.task.Title)
	m.body.SetValue(msg.task.Body)
	m.due = msg.task.Due
	m.status = ""
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if m.datePicker != nil {
		switch m.datePicker.handleKey(key) {
		case pickerSet:
			p := m.datePicker
			m.datePicker = nil
			m = m.SetDate(p.year, p.month, p.day)
		case pickerCancelled:
			m.datePicker = nil
		}
		return m, nil
	}
	if m.timePicker != nil {
		switch m.timePicker.handleKey(key) {
		case pickerSet:
			p := m.timePicker
			m.timePicker = nil
			m = m.SetTime(p.hour, p.minute)
		case pickerCancelled:
			m.timePicker = nil
		}
		return m, nil
	}

	switch key {
	case "ctrl+c", m.keys.Cancel:
		return m.finish(FinishedMsg{TaskID: m.taskID})
	case "ctrl+s":
		return m.save()
	case m.keys.Next:
		return m, m.setFocus((m.focus + 1) % fieldCount)
	case m.keys.Prev:
		return m, m.setFocus((m.focus + fieldCount - 1) % fieldCount)
	case m.keys.Confirm:
		switch m.focus {
		case fieldTitle:
			return m, m.setFocus(fieldBody)
		case fieldDate:
			m.datePicker = newDatePicker(m.due)
			return m, nil
		case fieldTime:
			m.timePicker = newTimePicker(m.due)
			return m, nil
		case fieldConfirm:
			return m.save()
		}
	}
	return m, m.updateFocused(msg)
}

func (m *Model) updateFocused(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	switch m.focus {
	case fieldTitle:
		m.title, cmd = m.title.Update(msg)
	case fieldBody:
		m.body, cmd = m.body.Update(msg)
	}
	return cmd
}

func (m Model) save() (tea.Model, tea.Cmd) {
	if m.saving || m.loading {
		return m, nil
	}
	m.saving = true
	m.status = "Saving..."
	return m, m.saveCmd()
}

func (m Model) finish(fm FinishedMsg) (tea.Model, tea.Cmd) {
	m.done = true
	m.datePicker = nil
	m.timePicker = nil
	if m.release != nil {
		m.release()
	}
	return m, func() tea.Msg { return fm }
}

func (m *Model) setFocus(f field) tea.Cmd {
	m.focus = f
	m.title.Blur()
	m.body.Blur()
	switch f {
	case fieldTitle:
		return m.title.Focus()
	case fieldBody:
		return m.body.Focus()
	}
	return nil
}

// SetDate changes the calendar day of the due time and keeps its time of
// day.
func (m Model) SetDate(year int, month time.Month, day int) Model {
	d := m.due
	m.due = time.Date(year, month, day, d.Hour(), d.Minute(), d.Second(), d.Nanosecond(), d.Location())
	return m
}

// SetTime changes the hour and minute of the due time. Seconds are cleared.
func (m Model) SetTime(hour, minute int) Model {
	d := m.due
	m.due = time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, d.Location())
	return m
}

func (m Model) TaskID() int64     { return m.taskID }
func (m Model) Due() time.Time    { return m.due }
func (m Model) Title() string     { return m.title.Value() }
func (m Model) Body() string      { return m.body.Value() }
func (m Model) Status() string    { return m.status }
func (m Model) Done() bool        { return m.done }
func (m Model) DateLabel() string { return m.due.Format(DateFormat) }
func (m Model) TimeLabel() string { return m.due.Format(TimeFormat) }

func (m Model) View() string {
	var b strings.Builder

	header := "New task"
	if m.taskID != 0 {
		header = fmt.Sprintf("Edit task #%d", m.taskID)
	}
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n\n")

	b.WriteString(labelStyle.Render("Title"))
	b.WriteString(m.title.View())
	b.WriteString("\n\n")
	b.WriteString("Body\n")
	b.WriteString(m.body.View())
	b.WriteString("\n\n")

	buttons := lipgloss.JoinHorizontal(lipgloss.Center,
		labelStyle.Render("Due"),
		m.button(fieldDate, m.DateLabel()),
		" ",
		m.button(fieldTime, m.TimeLabel()),
		"   ",
		m.button(fieldConfirm, "Save"),
	)
	b.WriteString(buttons)
	b.WriteString("\n")

	switch {
	case m.datePicker != nil:
		b.WriteString(dialogStyle.Render(m.datePicker.view()))
		b.WriteString("\n")
	case m.timePicker != nil:
		b.WriteString(dialogStyle.Render(m.timePicker.view()))
		b.WriteString("\n")
	}

	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(m.status)
	}
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("%s/%s move • %s open/save • ctrl+s save • %s cancel",
		m.keys.Next, m.keys.Prev, m.keys.Confirm, m.keys.Cancel)))
	return b.String()
}

func (m Model) button(f field, label string) string {
	if m.focus == f {
		return focusedButton.Render(label)
	}
	return buttonStyle.Render(label)
}
