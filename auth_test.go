package sandboxbridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/oauth2"
)

func countingLogin(logins *atomic.Int32) LoginFunc {
	return func(ctx context.Context) (*oauth2.Token, error) {
		n := logins.Add(1)
		return &oauth2.Token{AccessToken: fmt.Sprintf("t%d", n)}, nil
	}
}

func TestDoAuthorizedReauthenticatesOnce(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("X-Session") != "t2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, "ok")
	}))
	defer server.Close()

	tr, _ := newTestTransport(t, server.URL, nil)
	var logins atomic.Int32
	auth := NewSessionAuth("X-Session", countingLogin(&logins))

	resp, err := tr.DoAuthorized(context.Background(), &NormalizedRequest{Endpoint: "/x"}, auth)
	if err != nil {
		t.Fatalf("DoAuthorized: %v", err)
	}
	if string(resp.Data) != "ok" {
		t.Errorf("body = %q", resp.Data)
	}
	if logins.Load() != 2 || hits.Load() != 2 {
		t.Errorf("logins = %d, hits = %d; want 2 and 2", logins.Load(), hits.Load())
	}

	// The renewed session is reused.
	if _, err := tr.DoAuthorized(context.Background(), &NormalizedRequest{Endpoint: "/x"}, auth); err != nil {
		t.Fatal(err)
	}
	if logins.Load() != 2 {
		t.Errorf("logins = %d after reuse, want 2", logins.Load())
	}
}

func TestDoAuthorizedGivesUpAfterOneReauth(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		io.WriteString(w, `{"fireeyeapis": {"httpStatus": 401}}`)
	}))
	defer server.Close()

	tr, _ := newTestTransport(t, server.URL, nil)
	var logins atomic.Int32
	auth := NewSessionAuth("X-Session", countingLogin(&logins))
	auth.Unauthorized = func(resp *NormalizedResponse) bool { return true }

	_, err := tr.DoAuthorized(context.Background(), &NormalizedRequest{Endpoint: "/x"}, auth)
	var te *TransportError
	if !errors.As(err, &te) || !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if hits.Load() != 2 || logins.Load() != 2 {
		t.Errorf("hits = %d, logins = %d; want 2 and 2", hits.Load(), logins.Load())
	}
}

func TestSessionAuthLoginWithoutToken(t *testing.T) {
	auth := NewSessionAuth("X-Session", func(ctx context.Context) (*oauth2.Token, error) {
		return &oauth2.Token{}, nil
	})
	err := auth.Authorize(context.Background(), &NormalizedRequest{})
	var te *TransportError
	if !errors.As(err, &te) || !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected authentication TransportError, got %v", err)
	}
}

func TestSessionAuthRenewsExpiredJWT(t *testing.T) {
	var logins atomic.Int32
	auth := NewSessionAuth("Authorization", func(ctx context.Context) (*oauth2.Token, error) {
		logins.Add(1)
		raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"exp": time.Now().Add(-time.Minute).Unix(),
		}).SignedString([]byte("k"))
		return &oauth2.Token{AccessToken: raw}, err
	})

	for i := 0; i < 2; i++ {
		if err := auth.Authorize(context.Background(), &NormalizedRequest{}); err != nil {
			t.Fatal(err)
		}
	}
	if logins.Load() != 2 {
		t.Errorf("logins = %d, want a fresh login for each expired token", logins.Load())
	}
}

func TestJWTExpiry(t *testing.T) {
	exp := time.Unix(1_900_000_000, 0)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix(), "sub": "analyst"}).SignedString([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if got := JWTExpiry(raw); !got.Equal(exp) {
		t.Errorf("expiry = %v, want %v", got, exp)
	}
	if got := JWTExpiry("opaque-session-token"); !got.IsZero() {
		t.Errorf("opaque token expiry = %v, want zero", got)
	}
}

func TestStaticAuthenticators(t *testing.T) {
	req := &NormalizedRequest{}
	auth := Chain{
		StaticHeaders{"X-Api-Key": "k"},
		StaticParams{"environment_id": {"100"}},
		NewBearerToken("b"),
	}
	if err := auth.Authorize(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if req.Headers["X-Api-Key"] != "k" || req.Headers["Authorization"] != "Bearer b" {
		t.Errorf("headers = %v", req.Headers)
	}
	if req.Params.Get("environment_id") != "100" {
		t.Errorf("params = %v", req.Params)
	}
	if auth.Expired(&NormalizedResponse{StatusCode: http.StatusUnauthorized}) {
		t.Error("static credentials never expire")
	}

	if err := NewBearerToken("").Authorize(context.Background(), &NormalizedRequest{}); !errors.Is(err, ErrMissingCredential) {
		t.Errorf("expected ErrMissingCredential, got %v", err)
	}
}
