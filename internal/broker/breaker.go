package broker

import (
	"context"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"time"
)

// Breaker wraps a broker so a failing transport stops being called for a
// while. Notify never returns an error: a dropped signal is recovered by polling.
type Breaker struct {
	Broker
	cb     *gobreaker.CircuitBreaker
	logger logrus.FieldLogger
}

func NewBreaker(b Broker, name string, logger logrus.FieldLogger) *Breaker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("broker breaker state changed")
		},
	})
	return &Breaker{Broker: b, cb: cb, logger: logger}
}

func (b *Breaker) Notify(ctx context.Context, sig Signal) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.Broker.Notify(ctx, sig)
	})
	if err != nil {
		b.logger.WithError(err).WithField("tenant_id", sig.TenantID).Debug("wake-up signal dropped")
	}
	return nil
}

// State exposes the breaker state for diagnostics.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
