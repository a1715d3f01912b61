package editor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasks/internal/config"
	apperrors "tasks/internal/errors"
	"tasks/internal/storage"
)

var fixedNow = time.Date(2026, 10, 17, 14, 30, 45, 0, time.Local)

func clock() time.Time { return fixedNow }

type scheduled struct {
	taskID int64
	due    time.Time
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []scheduled
	err   error
}

func (f *fakeScheduler) Schedule(_ context.Context, taskID int64, due time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, scheduled{taskID: taskID, due: due})
	return f.err
}

// fakeStore lets tests control what Update reports.
type fakeStore struct {
	task      storage.Task
	found     bool
	affected  int64
	insertErr error
	changes   chan storage.Change
}

func newFakeStore() *fakeStore {
	return &fakeStore{changes: make(chan storage.Change, 1)}
}

func (f *fakeStore) Insert(context.Context, storage.Task) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	return 1, nil
}

func (f *fakeStore) Update(context.Context, storage.Task) (int64, error) {
	return f.affected, nil
}

func (f *fakeStore) Find(context.Context, int64) (storage.Task, bool, error) {
	return f.task, f.found, nil
}

func (f *fakeStore) Subscribe() (<-chan storage.Change, func()) {
	return f.changes, func() {}
}

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	em, ok := next.(Model)
	require.True(t, ok)
	return em, cmd
}

func key(k string) tea.KeyMsg {
	switch k {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "shift+tab":
		return tea.KeyMsg{Type: tea.KeyShiftTab}
	case "ctrl+s":
		return tea.KeyMsg{Type: tea.KeyCtrlS}
	case "left":
		return tea.KeyMsg{Type: tea.KeyLeft}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
}

func press(t *testing.T, m Model, keys ...string) Model {
	t.Helper()
	for _, k := range keys {
		m, _ = update(t, m, key(k))
	}
	return m
}

// drive runs cmd and feeds its message back until the editor finishes.
func drive(t *testing.T, m Model, cmd tea.Cmd) (Model, FinishedMsg) {
	t.Helper()
	for i := 0; i < 4; i++ {
		require.NotNil(t, cmd)
		msg := cmd()
		if fm, ok := msg.(FinishedMsg); ok {
			return m, fm
		}
		m, cmd = update(t, m, msg)
	}
	t.Fatal("editor did not finish")
	return m, FinishedMsg{}
}

func load(t *testing.T, m Model) Model {
	t.Helper()
	m, _ = update(t, m, m.loadCmd()())
	return m
}

func TestNewTaskStartsAtNow(t *testing.T) {
	m := New(0, newFakeStore(), nil, WithClock(clock))

	assert.Equal(t, int64(0), m.TaskID())
	assert.Equal(t, "2026-10-17", m.DateLabel())
	assert.Equal(t, "14:30", m.TimeLabel())
	assert.Equal(t, "", m.Title())
	assert.NotNil(t, m.Init())
}

func TestNewTaskAppliesPreferences(t *testing.T) {
	prefs := config.Preferences{DefaultTitle: "Buy milk", DefaultTimeFromNow: "90"}
	m := New(0, newFakeStore(), nil, WithClock(clock), WithPreferences(prefs))

	assert.Equal(t, "Buy milk", m.Title())
	assert.Equal(t, "16:00", m.TimeLabel())
}

func TestRestoredDueSkipsDefaultOffset(t *testing.T) {
	restored := time.Date(2026, 12, 24, 18, 0, 0, 0, time.Local)
	prefs := config.Preferences{DefaultTimeFromNow: "90"}
	m := New(0, newFakeStore(), nil, WithClock(clock), WithPreferences(prefs), WithDue(restored))

	assert.True(t, restored.Equal(m.Due()))
}

func TestBadPreferenceIsReported(t *testing.T) {
	prefs := config.Preferences{DefaultTimeFromNow: "later"}
	m := New(0, newFakeStore(), nil, WithClock(clock), WithPreferences(prefs))

	assert.Contains(t, m.Status(), "default_time_from_now")
	assert.Equal(t, "14:30", m.TimeLabel())
}

func TestSaveNewTaskAssignsIDAndRoundTrips(t *testing.T) {
	store := newStore(t)
	sched := &fakeScheduler{}

	m := New(0, store, sched, WithClock(clock))
	m = press(t, m, "Water plants", "tab", "front and back", "enter", "balcony too")
	m = m.SetDate(2026, time.November, 2)
	m = m.SetTime(7, 15)

	m, cmd := update(t, m, key("ctrl+s"))
	m, fm := drive(t, m, cmd)

	require.True(t, fm.Saved)
	require.NoError(t, fm.Err)
	assert.NotZero(t, fm.TaskID)
	assert.Equal(t, fm.TaskID, m.TaskID())
	assert.Equal(t, "Task saved", m.Status())
	assert.True(t, m.Done())

	want := time.Date(2026, time.November, 2, 7, 15, 0, 0, time.Local)
	require.Len(t, sched.calls, 1)
	assert.Equal(t, fm.TaskID, sched.calls[0].taskID)
	assert.True(t, want.Equal(sched.calls[0].due))

	reopened := load(t, New(fm.TaskID, store, nil, WithClock(clock)))
	assert.Equal(t, "Water plants", reopened.Title())
	assert.Equal(t, "front and back\nbalcony too", reopened.Body())
	assert.True(t, want.Equal(reopened.Due()))
	assert.Equal(t, "2026-11-02", reopened.DateLabel())
	assert.Equal(t, "07:15", reopened.TimeLabel())
}

func TestSaveExistingTaskUpdatesOneRow(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	due := time.Date(2026, 10, 20, 9, 0, 0, 0, time.Local)
	id, err := store.Insert(ctx, storage.Task{Title: "Old", Body: "b", Due: due})
	require.NoError(t, err)
	otherID, err := store.Insert(ctx, storage.Task{Title: "Other", Due: due})
	require.NoError(t, err)

	sched := &fakeScheduler{}
	m := load(t, New(id, store, sched, WithClock(clock)))
	require.Equal(t, "Old", m.Title())

	m.title.SetValue("New")
	m = m.SetTime(10, 30)
	m = press(t, m, "tab", "tab", "tab", "tab")
	m, cmd := update(t, m, key("enter"))
	_, fm := drive(t, m, cmd)

	require.True(t, fm.Saved)
	assert.Equal(t, id, fm.TaskID)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "New", got.Title)
	assert.True(t, time.Date(2026, 10, 20, 10, 30, 0, 0, time.Local).Equal(got.Due))

	other, err := store.Get(ctx, otherID)
	require.NoError(t, err)
	assert.Equal(t, "Other", other.Title)
	assert.Len(t, sched.calls, 1)
}

func TestUpdateNotTouchingOneRowAborts(t *testing.T) {
	for _, affected := range []int64{0, 2} {
		store := newFakeStore()
		store.task = storage.Task{ID: 9, Title: "x", Due: fixedNow}
		store.found = true
		store.affected = affected
		sched := &fakeScheduler{}

		m := load(t, New(9, store, sched, WithClock(clock)))
		m, cmd := update(t, m, key("ctrl+s"))
		m, fm := drive(t, m, cmd)

		assert.False(t, fm.Saved)
		assert.True(t, apperrors.IsIllegalState(fm.Err), "affected=%d", affected)
		assert.Contains(t, fm.Err.Error(), "unable to update 9")
		assert.Empty(t, sched.calls)
		assert.True(t, m.Done())
	}
}

func TestStorageErrorKeepsEditorOpen(t *testing.T) {
	store := newFakeStore()
	store.insertErr = apperrors.NewDatabaseError("insert task", errors.New("disk full"))

	m := New(0, store, nil, WithClock(clock))
	m, cmd := update(t, m, key("ctrl+s"))
	m, _ = update(t, m, cmd())

	assert.False(t, m.Done())
	assert.Contains(t, m.Status(), "save failed")
}

func TestReminderFailureDoesNotUndoSave(t *testing.T) {
	store := newStore(t)
	sched := &fakeScheduler{err: errors.New("no alarm")}

	m := New(0, store, sched, WithClock(clock))
	m, cmd := update(t, m, key("ctrl+s"))
	_, fm := drive(t, m, cmd)

	assert.True(t, fm.Saved)
	assert.EqualError(t, fm.ReminderErr, "no alarm")

	_, ok, err := store.Find(context.Background(), fm.TaskID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeletingEditedTaskClosesEditor(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	id, err := store.Insert(ctx, storage.Task{Title: "Doomed", Due: fixedNow})
	require.NoError(t, err)

	m := load(t, New(id, store, nil, WithClock(clock)))
	require.Equal(t, "Doomed", m.Title())

	require.NoError(t, store.Delete(ctx, id))

	var change storage.Change
	select {
	case change = <-m.changes:
	case <-time.After(2 * time.Second):
		t.Fatal("no change delivered")
	}
	m, cmd := update(t, m, taskChangedMsg{session: m.session, change: change, open: true})
	require.NotNil(t, cmd)

	m, cmd = update(t, m, m.loadCmd()())
	_, fm := drive(t, m, cmd)
	assert.Equal(t, id, fm.TaskID)
	assert.False(t, fm.Saved)
	assert.NoError(t, fm.Err)

	_, open := <-m.changes
	assert.False(t, open, "subscription should be released")
}

func TestLoadOfMissingTaskClosesEditor(t *testing.T) {
	store := newFakeStore()
	m := New(5, store, nil, WithClock(clock))
	m, cmd := update(t, m, m.loadCmd()())
	_, fm := drive(t, m, cmd)

	assert.Equal(t, int64(5), fm.TaskID)
	assert.False(t, fm.Saved)
}

func TestChangeToOtherTaskIsIgnored(t *testing.T) {
	store := newFakeStore()
	store.found = true
	store.task = storage.Task{ID: 3, Title: "mine", Due: fixedNow}

	m := load(t, New(3, store, nil, WithClock(clock)))
	m.title.SetValue("typing")
	m, cmd := update(t, m, taskChangedMsg{session: m.session, change: storage.Change{TaskID: 4}, open: true})

	assert.NotNil(t, cmd)
	assert.Equal(t, "typing", m.Title())
	assert.False(t, m.Done())
}

func TestSaveIgnoredWhileLoading(t *testing.T) {
	m := New(3, newFakeStore(), nil, WithClock(clock))
	_, cmd := update(t, m, key("ctrl+s"))
	assert.Nil(t, cmd)
}

func TestCancelFinishesWithoutSaving(t *testing.T) {
	store := newStore(t)
	m := New(0, store, nil, WithClock(clock))
	m = press(t, m, "draft")
	m, cmd := update(t, m, key("esc"))
	_, fm := drive(t, m, cmd)

	assert.False(t, fm.Saved)
	tasks, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestDateButtonOpensPicker(t *testing.T) {
	m := New(0, newFakeStore(), nil, WithClock(clock))
	m = press(t, m, "tab", "tab", "enter")
	require.NotNil(t, m.datePicker)
	assert.Contains(t, m.View(), "October 2026")

	m = press(t, m, "right", "down", "enter")
	assert.Nil(t, m.datePicker)
	assert.Equal(t, "2026-10-25", m.DateLabel())
	assert.Equal(t, "14:30", m.TimeLabel())
}

func TestTimeButtonOpensPicker(t *testing.T) {
	m := New(0, newFakeStore(), nil, WithClock(clock))
	m = press(t, m, "tab", "tab", "tab", "enter")
	require.NotNil(t, m.timePicker)

	m = press(t, m, "up", "right", "down", "down", "enter")
	assert.Nil(t, m.timePicker)
	assert.Equal(t, "15:28", m.TimeLabel())
	assert.Equal(t, "2026-10-17", m.DateLabel())
}

func TestPickerEscKeepsDue(t *testing.T) {
	m := New(0, newFakeStore(), nil, WithClock(clock))
	m = press(t, m, "tab", "tab", "enter", "right", "esc")

	assert.Nil(t, m.datePicker)
	assert.False(t, m.Done())
	assert.Equal(t, "2026-10-17", m.DateLabel())
}

func TestSetTimeClearsSeconds(t *testing.T) {
	m := New(0, newFakeStore(), nil, WithDue(fixedNow))
	m = m.SetTime(8, 5)
	assert.Equal(t, 0, m.Due().Second())

	m = New(0, newFakeStore(), nil, WithDue(fixedNow))
	m = m.SetDate(2027, time.January, 1)
	assert.Equal(t, 45, m.Due().Second())
	assert.Equal(t, "2027-01-01", m.DateLabel())
}

func TestViewShowsButtons(t *testing.T) {
	m := New(0, newFakeStore(), nil, WithClock(clock))
	view := m.View()

	assert.Contains(t, view, "New task")
	assert.Contains(t, view, "2026-10-17")
	assert.Contains(t, view, "14:30")
	assert.Contains(t, view, "Save")
}

func TestWithKeysKeepsDefaultsForEmpty(t *testing.T) {
	m := New(0, newFakeStore(), nil, WithKeys(config.Keymap{Cancel: "ctrl+q"}))
	assert.Equal(t, "ctrl+q", m.keys.Cancel)
	assert.Equal(t, "tab", m.keys.Next)
	assert.Equal(t, "enter", m.keys.Confirm)
}

// twoStores opens the same database file twice, like two processes would.
func twoStores(t *testing.T) (*storage.Store, *storage.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.db")
	a, err := storage.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	b, err := storage.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return a, b
}

func watch(t *testing.T, s *storage.Store) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Watch(ctx, 20*time.Millisecond)
	// let Watch read its starting data_version before the test writes
	time.Sleep(100 * time.Millisecond)
}

func nextChange(t *testing.T, m Model) storage.Change {
	t.Helper()
	select {
	case c := <-m.changes:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("no change delivered")
	}
	return storage.Change{}
}

func TestDeleteFromOtherConnectionClosesEditor(t *testing.T) {
	a, b := twoStores(t)
	ctx := context.Background()
	id, err := a.Insert(ctx, storage.Task{Title: "Shared", Due: fixedNow})
	require.NoError(t, err)

	m := load(t, New(id, a, nil, WithClock(clock)))
	require.Equal(t, "Shared", m.Title())
	watch(t, a)

	require.NoError(t, b.Delete(ctx, id))

	change := nextChange(t, m)
	assert.True(t, change.Affects(id))
	m, cmd := update(t, m, taskChangedMsg{session: m.session, change: change, open: true})
	require.NotNil(t, cmd)

	m, cmd = update(t, m, m.loadCmd()())
	_, fm := drive(t, m, cmd)
	assert.Equal(t, id, fm.TaskID)
	assert.False(t, fm.Saved)
}

func TestUnrelatedWriteKeepsUnsavedEdits(t *testing.T) {
	a, b := twoStores(t)
	ctx := context.Background()
	id, err := a.Insert(ctx, storage.Task{Title: "original", Due: fixedNow})
	require.NoError(t, err)
	otherID, err := a.Insert(ctx, storage.Task{Title: "other", Due: fixedNow})
	require.NoError(t, err)

	m := load(t, New(id, a, nil, WithClock(clock)))
	m.title.SetValue("unsaved edit")
	watch(t, a)

	_, err = b.UpsertReminder(ctx, otherID, fixedNow)
	require.NoError(t, err)

	change := nextChange(t, m)
	m, _ = update(t, m, taskChangedMsg{session: m.session, change: change, open: true})
	m, _ = update(t, m, m.loadCmd()())

	assert.Equal(t, "unsaved edit", m.Title())
	assert.False(t, m.Done())
}

func TestUpdateFromOtherConnectionReloadsFields(t *testing.T) {
	a, b := twoStores(t)
	ctx := context.Background()
	id, err := a.Insert(ctx, storage.Task{Title: "original", Due: fixedNow})
	require.NoError(t, err)

	m := load(t, New(id, a, nil, WithClock(clock)))
	m.title.SetValue("unsaved edit")
	watch(t, a)

	n, err := b.Update(ctx, storage.Task{ID: id, Title: "from elsewhere", Due: fixedNow})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	change := nextChange(t, m)
	m, _ = update(t, m, taskChangedMsg{session: m.session, change: change, open: true})
	m, _ = update(t, m, m.loadCmd()())

	assert.Equal(t, "from elsewhere", m.Title())
}

func TestMessagesFromClosedEditorAreIgnored(t *testing.T) {
	store := newFakeStore()
	store.found = true
	store.task = storage.Task{ID: 3, Title: "mine", Due: fixedNow}

	closed := New(3, store, nil, WithClock(clock))
	stale := closed.loadCmd()()

	m := New(3, store, nil, WithClock(clock))
	m, cmd := update(t, m, stale)
	assert.Nil(t, cmd)
	assert.Equal(t, "Loading...", m.Status())
	assert.Equal(t, "", m.Title())

	m, cmd = update(t, m, taskChangedMsg{session: closed.session, change: storage.Change{TaskID: 3}, open: true})
	assert.Nil(t, cmd)

	m, cmd = update(t, m, savedMsg{session: closed.session, id: 3})
	assert.Nil(t, cmd)
	assert.False(t, m.Done())
}
