// Package handlers holds the built-in job types. Each handler talks to its
// domain through a small collaborator interface and reports progress
// between steps so a cancelled or lost job stops at a step boundary.
//
// Handlers must tolerate being run more than once for the same job: a job
// reclaimed from a lost worker starts again from the beginning.
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

const (
	TypeCatalogExport   = "catalog_export"
	TypeCatalogImport   = "catalog_import"
	TypeTranslation     = "bulk_translation"
	TypeMarketplaceSync = "marketplace_sync"
	TypeDailyCredits    = "daily_credit_deduction"
	TypeOAuthRefresh    = "oauth_token_refresh"
)

// Deps are the collaborators of the built-in handlers. A handler whose
// collaborators are missing is not registered.
type Deps struct {
	Catalog     Catalog
	Files       FileStore
	Translator  Translator
	Content     ContentStore
	Marketplace Marketplace
	Ledger      CreditLedger
	Credentials CredentialStore
	OAuth       map[string]OAuthProvider
	Plugins     PluginRuntime
	PluginTypes []string
	Now         func() time.Time
}

// Register adds every built-in handler whose collaborators are present.
func Register(reg *registry.Registry, d Deps) error {
	now := d.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	type entry struct {
		ok      bool
		jobType string
		handler registry.Handler
		opts    []registry.Option
	}
	entries := []entry{
		{d.Catalog != nil && d.Files != nil, TypeCatalogExport, &Export{Catalog: d.Catalog, Files: d.Files, Now: now}, nil},
		{d.Catalog != nil && d.Files != nil, TypeCatalogImport, &Import{Catalog: d.Catalog, Files: d.Files}, nil},
		{d.Translator != nil && d.Content != nil, TypeTranslation, &Translation{Translator: d.Translator, Content: d.Content}, nil},
		{d.Marketplace != nil, TypeMarketplaceSync, &MarketplaceSync{Marketplace: d.Marketplace}, nil},
		{d.Ledger != nil, TypeDailyCredits, &DailyCredits{Ledger: d.Ledger, Now: now}, []registry.Option{registry.RunInline()}},
		{d.Credentials != nil, TypeOAuthRefresh, &OAuthRefresh{Credentials: d.Credentials, Providers: d.OAuth, Now: now}, []registry.Option{registry.RunInline()}},
	}
	for _, e := range entries {
		if !e.ok {
			continue
		}
		if err := reg.Register(e.jobType, e.handler, e.opts...); err != nil {
			return err
		}
	}
	if d.Plugins != nil {
		if err := RegisterPlugins(reg, d.Plugins, d.PluginTypes...); err != nil {
			return err
		}
	}
	return nil
}

// SystemSchedules are the schedules every deployment bootstraps under the
// system tenant, limited to the job types present in reg.
func SystemSchedules(reg *registry.Registry) []types.CronJob {
	all := []types.CronJob{
		{
			Name:           "daily credit deduction",
			CronExpression: "5 0 * * *",
			Timezone:       "UTC",
			JobType:        TypeDailyCredits,
			SourceType:     types.SourceSystem,
		},
		{
			Name:           "oauth token refresh",
			CronExpression: "@hourly",
			Timezone:       "UTC",
			JobType:        TypeOAuthRefresh,
			SourceType:     types.SourceSystem,
		},
	}
	var out []types.CronJob
	for _, cj := range all {
		if reg.Has(cj.JobType) {
			out = append(out, cj)
		}
	}
	return out
}

// decode unmarshals a job payload. A payload that does not decode will
// never succeed, so the error is permanent.
func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, custom_errors.Permanentf("invalid payload: %v", err)
	}
	return v, nil
}

// step reports progress and stops the handler if cancellation was requested.
func step(ctx context.Context, ec *registry.ExecContext, done, total int, message string) error {
	percent := 100
	if total > 0 {
		percent = done * 100 / total
	}
	if err := ec.UpdateProgress(ctx, percent, message); err != nil {
		return err
	}
	if ec.Cancelled() {
		return custom_errors.ErrJobCancelled
	}
	return nil
}

func result(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return b, nil
}
