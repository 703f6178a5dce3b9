package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/assaka/daino/custom_errors"
	"github.com/assaka/daino/registry"
	"github.com/assaka/daino/types"
)

// Marketplace pushes or pulls one page of listings per call. An empty next
// cursor means the sync is complete.
type Marketplace interface {
	SyncPage(ctx context.Context, tenantID, channel, direction, cursor string) (SyncPage, error)
}

type SyncPage struct {
	Next   string
	Synced int
	Total  int
}

type syncPayload struct {
	Channel   string `json:"channel"`
	Direction string `json:"direction"`
}

type SyncResult struct {
	Channel string `json:"channel"`
	Synced  int    `json:"synced"`
}

// MarketplaceSync synchronises listings with an external marketplace channel.
type MarketplaceSync struct {
	Marketplace Marketplace
	// MaxPages guards against a channel that never returns an empty cursor.
	MaxPages int
}

func (h *MarketplaceSync) Execute(ctx context.Context, job *types.Job, ec *registry.ExecContext) (json.RawMessage, error) {
	p, err := decode[syncPayload](job.Payload)
	if err != nil {
		return nil, err
	}
	if p.Channel == "" {
		return nil, custom_errors.Permanentf("channel is required")
	}
	switch p.Direction {
	case "":
		p.Direction = "export"
	case "export", "import":
	default:
		return nil, custom_errors.Permanentf("unknown sync direction %q", p.Direction)
	}
	maxPages := h.MaxPages
	if maxPages <= 0 {
		maxPages = 10000
	}

	synced := 0
	cursor := ""
	for page := 0; page < maxPages; page++ {
		res, err := h.Marketplace.SyncPage(ctx, job.TenantID, p.Channel, p.Direction, cursor)
		if err != nil {
			return nil, err
		}
		synced += res.Synced
		total := max(res.Total, synced)
		if res.Next == "" {
			total = synced
		}
		if err := step(ctx, ec, synced, total, fmt.Sprintf("synced %d listings with %s", synced, p.Channel)); err != nil {
			return nil, err
		}
		if res.Next == "" {
			return result(SyncResult{Channel: p.Channel, Synced: synced})
		}
		cursor = res.Next
	}
	return nil, custom_errors.Permanentf("sync with %s did not finish after %d pages", p.Channel, maxPages)
}
