package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/assaka/daino/internal/logging"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockBroker struct {
	NotifyFunc    func(ctx context.Context, sig Signal) error
	SubscribeFunc func(ctx context.Context) (<-chan Signal, error)
}

func (m *mockBroker) Notify(ctx context.Context, sig Signal) error {
	return m.NotifyFunc(ctx, sig)
}

func (m *mockBroker) Subscribe(ctx context.Context) (<-chan Signal, error) {
	return m.SubscribeFunc(ctx)
}

func (m *mockBroker) Close() error { return nil }

func TestBrokerImplementations(t *testing.T) {
	var _ Broker = (*Local)(nil)
	var _ Broker = (*RabbitMQ)(nil)
	var _ Broker = (*Redis)(nil)
	var _ Broker = (*Postgres)(nil)
	var _ Broker = Noop{}
	var _ Broker = (*Breaker)(nil)
}

func TestLocal_FanOut(t *testing.T) {
	l := NewLocal()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := l.Subscribe(ctx)
	require.NoError(t, err)
	b, err := l.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, l.Notify(ctx, Signal{TenantID: "store-1", JobID: "j1"}))

	for _, ch := range []<-chan Signal{a, b} {
		select {
		case sig := <-ch:
			assert.Equal(t, "store-1", sig.TenantID)
			assert.Equal(t, "j1", sig.JobID)
		case <-time.After(time.Second):
			t.Fatal("signal not delivered")
		}
	}
}

func TestLocal_UnsubscribeOnCancel(t *testing.T) {
	l := NewLocal()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := l.Subscribe(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	assert.NoError(t, l.Notify(context.Background(), Signal{TenantID: "store-1"}))
}

func TestLocal_Close(t *testing.T) {
	l := NewLocal()
	ch, err := l.Subscribe(context.Background())
	require.NoError(t, err)
	require.NoError(t, l.Close())
	_, ok := <-ch
	assert.False(t, ok)
}

func TestForward_DropsMalformed(t *testing.T) {
	raw := make(chan []byte, 2)
	out := make(chan Signal, 2)
	raw <- []byte("not json")
	raw <- []byte(`{"tenant_id":"store-2"}`)
	close(raw)

	forward(context.Background(), raw, out)

	sig, ok := <-out
	require.True(t, ok)
	assert.Equal(t, "store-2", sig.TenantID)
	_, ok = <-out
	assert.False(t, ok)
}

func TestBreaker_SwallowsAndTrips(t *testing.T) {
	calls := 0
	inner := &mockBroker{
		NotifyFunc: func(ctx context.Context, sig Signal) error {
			calls++
			return errors.New("connection refused")
		},
	}
	b := NewBreaker(inner, "test", logging.Discard())

	for i := 0; i < 5; i++ {
		assert.NoError(t, b.Notify(context.Background(), Signal{TenantID: "store-1"}))
	}
	assert.Equal(t, 3, calls)
	assert.Equal(t, gobreaker.StateOpen, b.State())
}

func TestPostgres_Notify(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("SELECT pg_notify").
		WithArgs("daino_jobs", `{"tenant_id":"store-1","job_id":"j1"}`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	p := NewPostgres(db, "", "daino_jobs", logging.Discard())
	require.NoError(t, p.Notify(context.Background(), Signal{TenantID: "store-1", JobID: "j1"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := Noop{}.Subscribe(ctx)
	require.NoError(t, err)
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
}
