package appointment

import (
	"context"
	"sync"
)

// ListStore is the part of the store the list view reads and deletes through.
type ListStore interface {
	List(ctx context.Context) ([]*Appointment, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// ListView holds the scheduled-appointments list shown to the operator.
type ListView struct {
	mu      sync.Mutex
	store   ListStore
	notify  Notifier
	items   []*Appointment
	loading bool
}

func NewListView(store ListStore, notify Notifier) *ListView {
	if notify == nil {
		notify = NopNotifier{}
	}
	return &ListView{store: store, notify: notify, loading: true}
}

// Load re-reads the full list from the store. On failure the previous items
// are kept.
func (v *ListView) Load(ctx context.Context) ([]*Appointment, error) {
	v.mu.Lock()
	v.loading = true
	v.mu.Unlock()

	items, err := v.store.List(ctx)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.loading = false
	if err != nil {
		return v.items, err
	}
	v.items = items
	return items, nil
}

// Items returns the last loaded list.
func (v *ListView) Items() []*Appointment {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*Appointment, len(v.items))
	copy(out, v.items)
	return out
}

func (v *ListView) Loading() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loading
}

// Empty reports whether a completed load returned no appointments.
func (v *ListView) Empty() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.loading && len(v.items) == 0
}

// Delete removes the appointment and reloads the list.
func (v *ListView) Delete(ctx context.Context, id string) error {
	removed, err := v.store.Delete(ctx, id)
	if err == nil && !removed {
		err = ErrNotFound
	}
	if err != nil {
		v.notify.Failure(MsgDeleteFailed)
		return err
	}
	v.notify.Success(MsgDeleted)
	_, err = v.Load(ctx)
	return err
}
