// Package registry maps job type strings onto handlers. Built-in types are
// registered at process start; plugins add their own types namespaced as
// plugin:<id>:<action>.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/assaka/daino/custom_errors"
	"github.com/assaka/daino/types"
	"sort"
	"strings"
	"sync"
	"time"
)

// Mode declares how the scheduler runs a job type when a schedule fires.
type Mode int

const (
	// Queued types are enqueued as jobs and picked up by the worker pool.
	Queued Mode = iota
	// Inline types are sub-second system tasks the tick runs directly.
	Inline
)

func (m Mode) String() string {
	if m == Inline {
		return "inline"
	}
	return "queued"
}

// Handler runs one attempt of a job. A returned error is classified with
// custom_errors.Classify; unclassified errors are retried.
type Handler interface {
	Execute(ctx context.Context, job *types.Job, ec *ExecContext) (json.RawMessage, error)
}

type HandlerFunc func(ctx context.Context, job *types.Job, ec *ExecContext) (json.RawMessage, error)

func (f HandlerFunc) Execute(ctx context.Context, job *types.Job, ec *ExecContext) (json.RawMessage, error) {
	return f(ctx, job, ec)
}

// Registration is a resolved handler plus its execution settings.
type Registration struct {
	Type    string
	Mode    Mode
	Timeout time.Duration
	Handler Handler
}

type Option func(*Registration)

// RunInline marks the type as an inline system task.
func RunInline() Option {
	return func(r *Registration) {
		r.Mode = Inline
	}
}

// WithTimeout bounds a single attempt. Zero means no bound beyond the caller's.
func WithTimeout(d time.Duration) Option {
	return func(r *Registration) {
		r.Timeout = d
	}
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Registration
}

func New() *Registry {
	return &Registry{handlers: make(map[string]Registration)}
}

// Register adds a handler for jobType.
func (r *Registry) Register(jobType string, h Handler, opts ...Option) error {
	jobType = strings.TrimSpace(jobType)
	if jobType == "" {
		return fmt.Errorf("job type is required")
	}
	if h == nil {
		return fmt.Errorf("handler for %q is nil", jobType)
	}

	reg := Registration{Type: jobType, Mode: Queued, Handler: h}
	for _, opt := range opts {
		opt(&reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("%w: %s", custom_errors.ErrDuplicateHandler, jobType)
	}
	r.handlers[jobType] = reg
	return nil
}

// RegisterPlugin adds a handler under plugin:<pluginID>:<action>.
func (r *Registry) RegisterPlugin(pluginID, action string, h Handler, opts ...Option) (string, error) {
	if pluginID == "" || action == "" || strings.Contains(pluginID, ":") {
		return "", fmt.Errorf("invalid plugin job type %q/%q", pluginID, action)
	}
	jobType := PluginType(pluginID, action)
	return jobType, r.Register(jobType, h, opts...)
}

// Unregister removes a type, e.g. when its plugin is uninstalled.
func (r *Registry) Unregister(jobType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, jobType)
}

// Resolve returns the registration for jobType or ErrHandlerNotFound.
func (r *Registry) Resolve(jobType string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[jobType]
	if !ok {
		return Registration{}, fmt.Errorf("%w: %s", custom_errors.ErrHandlerNotFound, jobType)
	}
	return reg, nil
}

func (r *Registry) Has(jobType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[jobType]
	return ok
}

// Types lists registered job types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Verify checks that every given job type has a handler. The error lists all
// missing types at once.
func (r *Registry) Verify(jobTypes ...string) error {
	verr := &custom_errors.ValidationError{}
	seen := make(map[string]bool)
	for _, t := range jobTypes {
		if seen[t] {
			continue
		}
		seen[t] = true
		if !r.Has(t) {
			verr.Add(fmt.Errorf("%w: %s", custom_errors.ErrHandlerNotFound, t))
		}
	}
	return verr.OrNil()
}

const pluginPrefix = "plugin:"

func PluginType(pluginID, action string) string {
	return pluginPrefix + pluginID + ":" + action
}

// ParsePluginType splits a plugin:<id>:<action> type.
func ParsePluginType(jobType string) (pluginID, action string, ok bool) {
	rest, found := strings.CutPrefix(jobType, pluginPrefix)
	if !found {
		return "", "", false
	}
	pluginID, action, ok = strings.Cut(rest, ":")
	if !ok || pluginID == "" || action == "" {
		return "", "", false
	}
	return pluginID, action, true
}
