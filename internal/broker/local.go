package broker

import (
	"context"
	"sync"
)

// Local fans signals out to in-process subscribers.
type Local struct {
	mu     sync.Mutex
	subs   map[int]chan Signal
	nextID int
	closed bool
}

func NewLocal() *Local {
	return &Local{subs: make(map[int]chan Signal)}
}

func (l *Local) Notify(_ context.Context, sig Signal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ch := range l.subs {
		select {
		case ch <- sig:
		default:
		}
	}
	return nil
}

func (l *Local) Subscribe(ctx context.Context) (<-chan Signal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch := make(chan Signal, 64)
	if l.closed {
		close(ch)
		return ch, nil
	}
	id := l.nextID
	l.nextID++
	l.subs[id] = ch

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		defer l.mu.Unlock()
		if sub, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(sub)
		}
	}()
	return ch, nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	for id, ch := range l.subs {
		delete(l.subs, id)
		close(ch)
	}
	return nil
}
