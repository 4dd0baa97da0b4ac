package sandboxbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/oauth2"
)

// StaticHeaders attaches fixed headers (API keys, Accept, User-Agent) to
// every request.
type StaticHeaders map[string]string

func (h StaticHeaders) Authorize(_ context.Context, req *NormalizedRequest) error {
	for k, v := range h {
		req.SetHeader(k, v)
	}
	return nil
}

// StaticParams attaches fixed query or form parameters to every request.
type StaticParams url.Values

func (p StaticParams) Authorize(_ context.Context, req *NormalizedRequest) error {
	for k, vs := range p {
		for _, v := range vs {
			req.SetParam(k, v)
		}
	}
	return nil
}

// Chain applies several authenticators in order. It expires when any of
// its members does.
type Chain []Authenticator

func (c Chain) Authorize(ctx context.Context, req *NormalizedRequest) error {
	for _, a := range c {
		if err := a.Authorize(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// Expired reports whether any member credential has expired.
func (c Chain) Expired(resp *NormalizedResponse) bool {
	for _, a := range c {
		if r, ok := a.(Reauthenticator); ok && r.Expired(resp) {
			return true
		}
	}
	return false
}

func (c Chain) Invalidate() {
	for _, a := range c {
		if r, ok := a.(Reauthenticator); ok {
			r.Invalidate()
		}
	}
}

// BearerToken sends a static API key as an Authorization bearer credential.
type BearerToken struct {
	token *oauth2.Token
}

func NewBearerToken(apiKey string) *BearerToken {
	return &BearerToken{token: &oauth2.Token{AccessToken: apiKey, TokenType: "Bearer"}}
}

func (b *BearerToken) Authorize(_ context.Context, req *NormalizedRequest) error {
	if b.token.AccessToken == "" {
		return fmt.Errorf("bearer token: %w", ErrMissingCredential)
	}
	req.SetHeader("Authorization", b.token.Type()+" "+b.token.AccessToken)
	return nil
}

// LoginFunc exchanges long-lived credentials for a session token.
type LoginFunc func(ctx context.Context) (*oauth2.Token, error)

// SessionAuth is a Reauthenticator for backends that hand out session
// tokens. The token is obtained lazily on first use, attached under Header,
// and dropped whenever the backend answers 401 or Unauthorized matches the
// response body.
type SessionAuth struct {
	Header       string
	Unauthorized func(*NormalizedResponse) bool

	login LoginFunc

	mu    sync.Mutex
	token *oauth2.Token
}

func NewSessionAuth(header string, login LoginFunc) *SessionAuth {
	return &SessionAuth{Header: header, login: login}
}

func (s *SessionAuth) Authorize(ctx context.Context, req *NormalizedRequest) error {
	tok, err := s.Token(ctx)
	if err != nil {
		return err
	}
	req.SetHeader(s.Header, tok.AccessToken)
	return nil
}

// Token returns the cached session token, logging in when there is none or
// it has expired.
func (s *SessionAuth) Token(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token.Valid() {
		return s.token, nil
	}
	tok, err := s.login(ctx)
	if err != nil {
		return nil, err
	}
	if tok == nil || tok.AccessToken == "" {
		return nil, &TransportError{Err: fmt.Errorf("%w: login returned no token", ErrAuthentication)}
	}
	if tok.Expiry.IsZero() {
		tok.Expiry = JWTExpiry(tok.AccessToken)
	}
	s.token = tok
	return tok, nil
}

func (s *SessionAuth) Expired(resp *NormalizedResponse) bool {
	if resp.StatusCode == 401 {
		return true
	}
	return s.Unauthorized != nil && s.Unauthorized(resp)
}

func (s *SessionAuth) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = nil
}

// JWTExpiry returns the exp claim of a JWT-shaped token without verifying
// its signature, or the zero time for opaque tokens.
func JWTExpiry(raw string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}
	}
	switch exp := claims["exp"].(type) {
	case float64:
		return time.Unix(int64(exp), 0)
	case json.Number:
		if v, err := exp.Int64(); err == nil {
			return time.Unix(v, 0)
		}
	}
	return time.Time{}
}
