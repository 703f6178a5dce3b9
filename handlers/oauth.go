package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/assaka/daino/custom_errors"
	"github.com/assaka/daino/internal/logging"
	"github.com/assaka/daino/registry"
	"github.com/assaka/daino/types"
	"golang.org/x/oauth2"
	"net/http"
	"time"
)

// Credential is a stored OAuth token of a store's integration.
type Credential struct {
	ID       string
	StoreID  string
	Provider string
	Token    *oauth2.Token
}

// CredentialStore keeps integration tokens across all stores.
type CredentialStore interface {
	Expiring(ctx context.Context, before time.Time) ([]Credential, error)
	SaveToken(ctx context.Context, c Credential, token *oauth2.Token) error
	// MarkBroken flags a credential whose refresh token was rejected so the
	// store owner can reconnect the integration.
	MarkBroken(ctx context.Context, c Credential, reason string) error
}

// OAuthProvider is satisfied by *oauth2.Config.
type OAuthProvider interface {
	TokenSource(ctx context.Context, t *oauth2.Token) oauth2.TokenSource
}

type OAuthResult struct {
	Refreshed int               `json:"refreshed"`
	Broken    int               `json:"broken"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// OAuthRefresh refreshes integration tokens that expire within Window.
type OAuthRefresh struct {
	Credentials CredentialStore
	Providers   map[string]OAuthProvider
	Window      time.Duration
	Now         func() time.Time
}

func (h *OAuthRefresh) Execute(ctx context.Context, job *types.Job, ec *registry.ExecContext) (json.RawMessage, error) {
	window := h.Window
	if window <= 0 {
		window = 2 * time.Hour
	}
	creds, err := h.Credentials.Expiring(ctx, h.Now().Add(window))
	if err != nil {
		return nil, err
	}

	res := OAuthResult{}
	for i, c := range creds {
		if err := h.refresh(ctx, c); err != nil {
			var broken *brokenCredential
			if errors.As(err, &broken) {
				res.Broken++
				if markErr := h.Credentials.MarkBroken(ctx, c, broken.reason); markErr != nil {
					logging.OrDiscard(ec.Logger).WithError(markErr).WithField("credential_id", c.ID).Error("failed to flag credential")
				}
			} else {
				if res.Failed == nil {
					res.Failed = make(map[string]string)
				}
				res.Failed[c.ID] = err.Error()
			}
		} else {
			res.Refreshed++
		}
		if err := step(ctx, ec, i+1, len(creds), "refreshed "+c.ID); err != nil {
			return nil, err
		}
	}

	out, err := result(res)
	if err != nil {
		return nil, err
	}
	if len(res.Failed) > 0 {
		return out, custom_errors.Transient(fmt.Errorf("%d of %d tokens could not be refreshed", len(res.Failed), len(creds)))
	}
	return out, nil
}

type brokenCredential struct{ reason string }

func (b *brokenCredential) Error() string { return b.reason }

func (h *OAuthRefresh) refresh(ctx context.Context, c Credential) error {
	provider, ok := h.Providers[c.Provider]
	if !ok {
		return &brokenCredential{reason: fmt.Sprintf("unknown oauth provider %q", c.Provider)}
	}
	if c.Token == nil || c.Token.RefreshToken == "" {
		return &brokenCredential{reason: "no refresh token"}
	}

	// Without an access token the source always goes to the token endpoint.
	token, err := provider.TokenSource(ctx, &oauth2.Token{RefreshToken: c.Token.RefreshToken}).Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil &&
			rerr.Response.StatusCode >= http.StatusBadRequest && rerr.Response.StatusCode < http.StatusInternalServerError {
			return &brokenCredential{reason: fmt.Sprintf("refresh rejected: %s", rerr.ErrorCode)}
		}
		return err
	}
	if token.RefreshToken == "" {
		token.RefreshToken = c.Token.RefreshToken
	}
	return h.Credentials.SaveToken(ctx, c, token)
}
