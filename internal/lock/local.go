package lock

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/classifieds-crawler/internal/metrics"
)

// Local is an in-process keyed mutex. Entries are reference counted and
// dropped once no caller holds or waits on them.
type Local struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	held chan struct{}
	refs int
}

// NewLocal creates an empty Local locker.
func NewLocal() *Local {
	metrics.Init()
	return &Local{entries: make(map[string]*entry)}
}

// Lock implements catalog.Locker.
func (l *Local) Lock(ctx context.Context, keys []string) (func(), error) {
	start := time.Now()
	defer observeWait(start)

	keys = normalize(keys)
	acquired := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := l.acquire(ctx, key); err != nil {
			l.releaseAll(acquired)
			return nil, timeoutErr(ctx, key)
		}
		acquired = append(acquired, key)
	}
	var once sync.Once
	return func() { once.Do(func() { l.releaseAll(acquired) }) }, nil
}

func (l *Local) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{held: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.held <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.unref(key, e)
		return ctx.Err()
	}
}

func (l *Local) releaseAll(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		l.mu.Lock()
		e := l.entries[keys[i]]
		l.mu.Unlock()
		<-e.held
		l.unref(keys[i], e)
	}
}

func (l *Local) unref(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
