package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kadirpekel/hector/pkg/config"
)

func TestRefresherRefreshSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.GrantType != "refresh_token" || req.RefreshToken != "old-refresh" {
			t.Errorf("refresh request = %+v", req)
		}
		_ = json.NewEncoder(w).Encode(refreshResponse{
			AccessToken:  "new-access",
			RefreshToken: "new-refresh",
			ExpiresIn:    3600,
		})
	}))
	defer server.Close()

	var updated config.AuthMethod
	refresher := NewRefresher(RefreshEndpoint{URL: server.URL}, func(m config.AuthMethod) { updated = m }, nil)

	got, err := refresher.Refresh(context.Background(), "test-provider", config.AuthMethod{
		Kind: config.AuthKindOAuth, AccessToken: "old-access", RefreshToken: "old-refresh",
	})
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got.AccessToken != "new-access" || got.RefreshToken != "new-refresh" {
		t.Errorf("Refresh() = %+v", got)
	}
	if updated.AccessToken != "new-access" {
		t.Errorf("onUpdate callback did not observe refreshed credentials: %+v", updated)
	}
}

func TestRefresherRefreshKeepsOldRefreshTokenIfOmitted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(refreshResponse{AccessToken: "new-access", ExpiresIn: 60})
	}))
	defer server.Close()

	refresher := NewRefresher(RefreshEndpoint{URL: server.URL}, nil, nil)
	got, err := refresher.Refresh(context.Background(), "p", config.AuthMethod{
		Kind: config.AuthKindOAuth, AccessToken: "old", RefreshToken: "keep-me",
	})
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got.RefreshToken != "keep-me" {
		t.Errorf("RefreshToken = %q, want preserved %q", got.RefreshToken, "keep-me")
	}
}

func TestRefresherRefreshNoRefreshToken(t *testing.T) {
	refresher := NewRefresher(RefreshEndpoint{URL: "http://example.invalid"}, nil, nil)
	_, err := refresher.Refresh(context.Background(), "p", config.AuthMethod{Kind: config.AuthKindOAuth})
	if err != ErrNoRefreshToken {
		t.Errorf("Refresh() error = %v, want ErrNoRefreshToken", err)
	}
}

func TestRefresherRefreshEndpointFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	refresher := NewRefresher(RefreshEndpoint{URL: server.URL}, nil, nil)
	_, err := refresher.Refresh(context.Background(), "p", config.AuthMethod{
		Kind: config.AuthKindOAuth, RefreshToken: "r",
	})
	if err == nil {
		t.Fatal("Refresh() error = nil, want error on 500 from refresh endpoint")
	}
}

func TestRefresherSingleFlight(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode(refreshResponse{AccessToken: "new-access", RefreshToken: "r2", ExpiresIn: 60})
	}))
	defer server.Close()

	refresher := NewRefresher(RefreshEndpoint{URL: server.URL}, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = refresher.Refresh(context.Background(), "shared-key", config.AuthMethod{
				Kind: config.AuthKindOAuth, RefreshToken: "r1",
			})
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("refresh endpoint called %d times, want exactly 1 for concurrent same-key refreshes", got)
	}
}
