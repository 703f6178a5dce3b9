package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/assaka/daino/custom_errors"
	"github.com/assaka/daino/registry"
	"github.com/assaka/daino/types"
	"time"
)

// CreditLedger charges the daily plan fee of each store. DeductDaily is
// keyed by day, so charging the same store twice for one day is a no-op
// that reports charged=false.
type CreditLedger interface {
	ActiveStores(ctx context.Context) ([]string, error)
	DeductDaily(ctx context.Context, storeID, day string) (bool, error)
}

type creditsPayload struct {
	Day string `json:"day"`
}

type CreditsResult struct {
	Day     string            `json:"day"`
	Charged int               `json:"charged"`
	Skipped int               `json:"skipped"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// DailyCredits deducts one day of credits from every active store.
type DailyCredits struct {
	Ledger CreditLedger
	Now    func() time.Time
}

func (h *DailyCredits) Execute(ctx context.Context, job *types.Job, ec *registry.ExecContext) (json.RawMessage, error) {
	p, err := decode[creditsPayload](job.Payload)
	if err != nil {
		return nil, err
	}
	day := p.Day
	if day == "" {
		day = h.Now().UTC().Format(time.DateOnly)
	} else if _, err := time.Parse(time.DateOnly, day); err != nil {
		return nil, custom_errors.Permanentf("invalid day %q", day)
	}

	stores, err := h.Ledger.ActiveStores(ctx)
	if err != nil {
		return nil, err
	}

	res := CreditsResult{Day: day}
	for i, storeID := range stores {
		charged, err := h.Ledger.DeductDaily(ctx, storeID, day)
		switch {
		case err != nil:
			if res.Failed == nil {
				res.Failed = make(map[string]string)
			}
			res.Failed[storeID] = err.Error()
		case charged:
			res.Charged++
		default:
			res.Skipped++
		}
		if err := step(ctx, ec, i+1, len(stores), "charged "+storeID); err != nil {
			return nil, err
		}
	}

	out, err := result(res)
	if err != nil {
		return nil, err
	}
	if len(res.Failed) > 0 {
		// Retrying is safe: stores already charged today are skipped.
		return out, custom_errors.Transient(fmt.Errorf("%d of %d stores could not be charged for %s", len(res.Failed), len(stores), day))
	}
	return out, nil
}
