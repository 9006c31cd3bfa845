// Package auth acquires bearer tokens for the F&O OData surface.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/dynamicsmcp/fomcp/internal/config"
	"github.com/dynamicsmcp/fomcp/internal/types"
)

// Token is one acquired bearer token.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenProvider acquires tokens for a scope. Implementations must be safe
// for concurrent use.
type TokenProvider interface {
	GetToken(ctx context.Context, scope string) (Token, error)
}

// ScopeFor derives the OAuth scope for an environment base URL.
func ScopeFor(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/.default"
}

// NewProvider builds the TokenProvider selected by the config's auth mode.
func NewProvider(cfg *config.Config) (TokenProvider, error) {
	switch cfg.AuthMode {
	case config.AuthClientCredentials:
		cred, err := azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
		if err != nil {
			return nil, types.WrapError(types.ErrAuth, err, "client credential setup failed")
		}
		return &azureProvider{cred: cred}, nil
	case config.AuthDefault, "":
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, types.WrapError(types.ErrAuth, err, "default credential chain unavailable")
		}
		return &azureProvider{cred: cred}, nil
	default:
		return nil, types.NewError(types.ErrAuth, "unknown auth mode %q", cfg.AuthMode)
	}
}

// azureProvider adapts an azcore credential to TokenProvider. The azidentity
// credentials cache and refresh internally, so no extra caching here.
type azureProvider struct {
	cred azcore.TokenCredential
}

// GetToken implements TokenProvider.
func (p *azureProvider) GetToken(ctx context.Context, scope string) (Token, error) {
	tk, err := p.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{scope}})
	if err != nil {
		return Token{}, types.WrapError(types.ErrAuth, err, "token acquisition failed for scope %s", scope)
	}
	return Token{Value: tk.Token, ExpiresAt: tk.ExpiresOn}, nil
}

// StaticProvider returns a fixed token. Test and development use.
type StaticProvider struct {
	Token     string
	ExpiresAt time.Time
}

// GetToken implements TokenProvider.
func (p *StaticProvider) GetToken(ctx context.Context, scope string) (Token, error) {
	if p.Token == "" {
		return Token{}, types.NewError(types.ErrAuth, "static provider has no token")
	}
	exp := p.ExpiresAt
	if exp.IsZero() {
		exp = time.Now().Add(time.Hour)
	}
	return Token{Value: p.Token, ExpiresAt: exp}, nil
}

// Compile-time interface checks.
var (
	_ TokenProvider = (*azureProvider)(nil)
	_ TokenProvider = (*StaticProvider)(nil)
)
