package broker

import (
	"context"
	"database/sql"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"time"
)

// Postgres signals through LISTEN/NOTIFY on the shared database.
type Postgres struct {
	db      *sql.DB
	dsn     string
	channel string
	logger  logrus.FieldLogger
}

func NewPostgres(db *sql.DB, dsn, channel string, logger logrus.FieldLogger) *Postgres {
	return &Postgres{db: db, dsn: dsn, channel: channel, logger: logger}
}

func (p *Postgres) Notify(ctx context.Context, sig Signal) error {
	body, err := sig.encode()
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", p.channel, string(body))
	return err
}

func (p *Postgres) Subscribe(ctx context.Context) (<-chan Signal, error) {
	listener := pq.NewListener(p.dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			p.logger.WithError(err).WithField("event", ev).Warn("broker listener event")
		}
	})
	if err := listener.Listen(p.channel); err != nil {
		_ = listener.Close()
		return nil, err
	}

	raw := make(chan []byte)
	go func() {
		defer close(raw)
		defer listener.Close()
		for {
			select {
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				// nil after a reconnect; nothing to forward.
				if n == nil {
					continue
				}
				select {
				case raw <- []byte(n.Extra):
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	out := make(chan Signal, 64)
	go forward(ctx, raw, out)
	return out, nil
}

func (p *Postgres) Close() error { return nil }
