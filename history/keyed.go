package history

import (
	"context"
	"sync"
)

// Keyed serializes read-compare-write cycles per job id on top of a Store.
// Cycles on different ids never wait on each other.
type Keyed struct {
	store Store

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewKeyed wraps store.
func NewKeyed(store Store) *Keyed {
	return &Keyed{store: store, locks: make(map[string]*keyLock)}
}

// Store returns the wrapped store, for reads outside a cycle.
func (k *Keyed) Store() Store { return k.store }

// Txn is an open cycle on one job id. Record holds the state loaded by
// Begin. Release must be called exactly once; it is safe to defer.
type Txn struct {
	ID     string
	Record Record

	k        *Keyed
	lock     *keyLock
	released bool
}

// Begin locks id and loads its record. It blocks while another cycle on
// the same id is open, or until ctx is done.
func (k *Keyed) Begin(ctx context.Context, id string) (*Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := k.acquireRef(id)
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		k.dropRef(id, l)
		return nil, ctx.Err()
	}
	tx := &Txn{ID: id, k: k, lock: l}
	rec, err := k.store.Load(ctx, id)
	if err != nil {
		tx.Release()
		return nil, err
	}
	tx.Record = rec
	return tx, nil
}

// Save persists rec as the job's new record.
func (t *Txn) Save(ctx context.Context, rec Record) error {
	if err := t.k.store.Save(ctx, t.ID, rec); err != nil {
		return err
	}
	t.Record = rec
	return nil
}

// Release ends the cycle.
func (t *Txn) Release() {
	if t.released {
		return
	}
	t.released = true
	<-t.lock.sem
	t.k.dropRef(t.ID, t.lock)
}

func (k *Keyed) acquireRef(id string) *keyLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[id]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		k.locks[id] = l
	}
	l.refs++
	return l
}

func (k *Keyed) dropRef(id string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, id)
	}
}

// Reset deletes the record of id, waiting for any open cycle on it.
func (k *Keyed) Reset(ctx context.Context, id string) error {
	l := k.acquireRef(id)
	defer k.dropRef(id, l)
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.sem }()
	return k.store.Delete(ctx, id)
}
