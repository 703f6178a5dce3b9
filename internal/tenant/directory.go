package tenant

import (
	"context"
	"fmt"
	"github.com/assaka/daino/custom_errors"
	"sort"
	"sync"
)

// Tenant describes one store owner.
type Tenant struct {
	ID   string `mapstructure:"id" yaml:"id" validate:"required"`
	Plan string `mapstructure:"plan" yaml:"plan"`
	// PostgresURL points at the tenant's own database. Empty means the shared one.
	PostgresURL string `mapstructure:"postgres_url" yaml:"postgres_url"`
}

// Directory enumerates tenants. The scheduler tick walks it on every run.
type Directory interface {
	List(ctx context.Context) ([]Tenant, error)
	Get(ctx context.Context, id string) (Tenant, error)
}

// StaticDirectory is a Directory backed by configuration.
type StaticDirectory struct {
	mu      sync.RWMutex
	tenants map[string]Tenant
}

func NewStaticDirectory(tenants ...Tenant) *StaticDirectory {
	d := &StaticDirectory{tenants: make(map[string]Tenant, len(tenants))}
	for _, t := range tenants {
		d.tenants[t.ID] = t
	}
	return d
}

// Put adds or replaces a tenant.
func (d *StaticDirectory) Put(t Tenant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tenants[t.ID] = t
}

// List returns tenants sorted by id.
func (d *StaticDirectory) List(_ context.Context) ([]Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Tenant, 0, len(d.tenants))
	for _, t := range d.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *StaticDirectory) Get(_ context.Context, id string) (Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tenants[id]
	if !ok {
		return Tenant{}, fmt.Errorf("%w: %s", custom_errors.ErrTenantNotFound, id)
	}
	return t, nil
}
