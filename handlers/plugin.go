package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/assaka/daino/custom_errors"
	"github.com/assaka/daino/registry"
	"github.com/assaka/daino/types"
	"github.com/sony/gobreaker"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// PluginRuntime runs an action of an installed plugin.
type PluginRuntime interface {
	Invoke(ctx context.Context, tenantID, pluginID, action string, payload json.RawMessage) (json.RawMessage, error)
}

// PluginBridge forwards plugin:<id>:<action> jobs to the plugin runtime.
type PluginBridge struct {
	Runtime PluginRuntime
}

func (b *PluginBridge) Execute(ctx context.Context, job *types.Job, ec *registry.ExecContext) (json.RawMessage, error) {
	pluginID, action, ok := registry.ParsePluginType(job.Type)
	if !ok {
		return nil, custom_errors.Permanentf("%q is not a plugin job type", job.Type)
	}
	if err := step(ctx, ec, 0, 1, "invoking "+pluginID); err != nil {
		return nil, err
	}
	out, err := b.Runtime.Invoke(ctx, job.TenantID, pluginID, action, job.Payload)
	if err != nil {
		return nil, err
	}
	return out, step(ctx, ec, 1, 1, "done")
}

// RegisterPlugins registers the bridge for each plugin:<id>:<action> type.
func RegisterPlugins(reg *registry.Registry, runtime PluginRuntime, jobTypes ...string) error {
	bridge := &PluginBridge{Runtime: runtime}
	for _, t := range jobTypes {
		pluginID, action, ok := registry.ParsePluginType(t)
		if !ok {
			return fmt.Errorf("invalid plugin job type %q", t)
		}
		if _, err := reg.RegisterPlugin(pluginID, action, bridge); err != nil {
			return err
		}
	}
	return nil
}

// HTTPPluginRuntime calls plugin actions over HTTP at
// {Endpoint}/plugins/{id}/actions/{action}. Each plugin gets its own
// circuit breaker so one failing plugin does not slow the others down.
type HTTPPluginRuntime struct {
	endpoint string
	client   *http.Client

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewHTTPPluginRuntime(endpoint string, client *http.Client) *HTTPPluginRuntime {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &HTTPPluginRuntime{
		endpoint: endpoint,
		client:   client,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (r *HTTPPluginRuntime) breaker(pluginID string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[pluginID]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "plugin:" + pluginID,
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// Plugin-side rejections are not an outage.
			IsSuccessful: func(err error) bool {
				return err == nil || custom_errors.Classify(err) == custom_errors.ClassPermanent
			},
		})
		r.breakers[pluginID] = cb
	}
	return cb
}

func (r *HTTPPluginRuntime) Invoke(ctx context.Context, tenantID, pluginID, action string, payload json.RawMessage) (json.RawMessage, error) {
	out, err := r.breaker(pluginID).Execute(func() (interface{}, error) {
		return r.call(ctx, tenantID, pluginID, action, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, custom_errors.Transient(fmt.Errorf("plugin %s unavailable: %w", pluginID, err))
	}
	if err != nil {
		return nil, err
	}
	return out.(json.RawMessage), nil
}

func (r *HTTPPluginRuntime) call(ctx context.Context, tenantID, pluginID, action string, payload json.RawMessage) (json.RawMessage, error) {
	target := fmt.Sprintf("%s/plugins/%s/actions/%s", r.endpoint, url.PathEscape(pluginID), url.PathEscape(action))
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return nil, custom_errors.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if len(bytes.TrimSpace(body)) == 0 || !json.Valid(body) {
			return json.RawMessage("null"), nil
		}
		return json.RawMessage(body), nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("plugin %s/%s: %s: %s", pluginID, action, resp.Status, bytes.TrimSpace(body))
	default:
		return nil, custom_errors.Permanentf("plugin %s/%s: %s: %s", pluginID, action, resp.Status, bytes.TrimSpace(body))
	}
}
