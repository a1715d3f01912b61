package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		require.True(t, ok, "channel closed")
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no change received")
	}
	return Change{}
}

func TestSubscribeReceivesLocalWrites(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	ch, release := s.Subscribe()
	defer release()

	id, err := s.Insert(ctx, Task{Title: "x", Due: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, Change{TaskID: id}, receive(t, ch))

	_, err = s.Update(ctx, Task{ID: id, Title: "y", Due: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, Change{TaskID: id}, receive(t, ch))

	require.NoError(t, s.Delete(ctx, id))
	assert.Equal(t, Change{TaskID: id}, receive(t, ch))
}

func TestUpdateOfMissingRowPublishesNothing(t *testing.T) {
	s, _ := setupTestStore(t)
	ch, release := s.Subscribe()
	defer release()

	_, err := s.Update(context.Background(), Task{ID: 77, Due: time.Now()})
	require.NoError(t, err)

	select {
	case c := <-ch:
		t.Fatalf("unexpected change %+v", c)
	default:
	}
}

func TestReleaseClosesChannel(t *testing.T) {
	s, _ := setupTestStore(t)
	ch, release := s.Subscribe()
	release()
	release()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	s, _ := setupTestStore(t)
	_, release := s.Subscribe()
	defer release()

	for i := 0; i < subscriberBuffer*2; i++ {
		_, err := s.Insert(context.Background(), Task{Title: "spam", Due: time.Now()})
		require.NoError(t, err)
	}
}

func TestWatchSeesOtherConnections(t *testing.T) {
	s, dbPath := setupTestStore(t)
	other, err := Open(dbPath)
	require.NoError(t, err)
	defer other.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, release := s.Subscribe()
	defer release()

	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx, 10*time.Millisecond) }()

	// let Watch read its baseline before the foreign commit
	time.Sleep(50 * time.Millisecond)
	_, err = other.Insert(context.Background(), Task{Title: "from elsewhere", Due: time.Now()})
	require.NoError(t, err)

	c := receive(t, ch)
	assert.Equal(t, int64(0), c.TaskID)
	assert.True(t, c.Affects(42))

	cancel()
	assert.NoError(t, <-done)
}

func TestChangeAffects(t *testing.T) {
	assert.True(t, Change{TaskID: 3}.Affects(3))
	assert.False(t, Change{TaskID: 3}.Affects(4))
	assert.True(t, Change{}.Affects(4))
}
