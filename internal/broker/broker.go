// Package broker carries best-effort wake-up signals between the process
// that enqueues a job and the worker pools that claim it. A signal only
// shortens the wait until the next poll: the job store stays the single
// source of truth, and a lost signal costs at most one poll interval.
package broker

import (
	"context"
	"encoding/json"
)

// Signal says that a tenant has new pending work.
type Signal struct {
	TenantID string `json:"tenant_id"`
	JobID    string `json:"job_id,omitempty"`
}

func (s Signal) encode() ([]byte, error) {
	return json.Marshal(s)
}

func decode(b []byte) (Signal, bool) {
	var s Signal
	if err := json.Unmarshal(b, &s); err != nil {
		return Signal{}, false
	}
	return s, true
}

// Notifier publishes wake-up signals.
type Notifier interface {
	Notify(ctx context.Context, sig Signal) error
}

// Subscriber receives wake-up signals until ctx is done. The returned channel
// is closed when the subscription ends.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan Signal, error)
}

type Broker interface {
	Notifier
	Subscriber
	Close() error
}

// Noop is the broker used when no driver is configured. Workers then rely on polling alone.
type Noop struct{}

func (Noop) Notify(context.Context, Signal) error { return nil }

func (Noop) Subscribe(ctx context.Context) (<-chan Signal, error) {
	ch := make(chan Signal)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (Noop) Close() error { return nil }

// forward pumps raw payloads into a Signal channel, dropping malformed ones
// and signals the consumer is too slow to take.
func forward(ctx context.Context, raw <-chan []byte, out chan<- Signal) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-raw:
			if !ok {
				return
			}
			sig, ok := decode(b)
			if !ok {
				continue
			}
			select {
			case out <- sig:
			default:
			}
		}
	}
}
