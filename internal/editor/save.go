package editor

import (
	"context"
	"fmt"

	apperrors "tasks/internal/errors"
	"tasks/internal/storage"
)

// Saver writes tasks. *storage.Store satisfies it.
type Saver interface {
	Insert(ctx context.Context, t storage.Task) (int64, error)
	Update(ctx context.Context, t storage.Task) (int64, error)
}

// Save inserts t when t.ID is 0 and updates it otherwise, returning the id
// of the stored task. An update that does not touch exactly one row is an
// illegal state and nothing more may be done with the task.
func Save(ctx context.Context, store Saver, t storage.Task) (int64, error) {
	if t.ID == 0 {
		id, err := store.Insert(ctx, t)
		if err != nil {
			return 0, err
		}
		if id == 0 {
			return 0, apperrors.NewIllegalStateError("unable to insert task")
		}
		return id, nil
	}

	n, err := store.Update(ctx, t)
	if err != nil {
		return 0, err
	}
	if n != 1 {
		return 0, apperrors.NewIllegalStateError(fmt.Sprintf("unable to update %d", t.ID)).
			WithContext("rows_affected", n)
	}
	return t.ID, nil
}
