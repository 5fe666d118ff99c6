package token

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"mailvault/core/domain"
	"mailvault/pkg/apperr"
	"mailvault/pkg/logger"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeTokenStore struct {
	mu   sync.Mutex
	rows map[string]*domain.AccountToken

	getCalls int
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{rows: make(map[string]*domain.AccountToken)}
}

func (f *fakeTokenStore) Get(_ context.Context, groupID string) (*domain.AccountToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	row, ok := f.rows[groupID]
	if !ok {
		return nil, nil
	}
	copied := *row
	return &copied, nil
}

func (f *fakeTokenStore) Upsert(_ context.Context, token *domain.AccountToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *token
	f.rows[token.GroupID] = &copied
	return nil
}

func (f *fakeTokenStore) Delete(_ context.Context, groupID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, groupID)
	return nil
}

func newTestService(store *fakeTokenStore, endpoint string) *Service {
	svc := NewService(store, Config{ClientID: "test-client", TenantID: "common"}, logger.L())
	if endpoint != "" {
		svc.oauth.Endpoint = oauth2.Endpoint{TokenURL: endpoint, AuthStyle: oauth2.AuthStyleInParams}
	}
	return svc
}

// =============================================================================
// Tests
// =============================================================================

func TestGetAccessTokenNoRow(t *testing.T) {
	svc := newTestService(newFakeTokenStore(), "")

	_, err := svc.GetAccessToken(context.Background(), "g1")
	if !apperr.NeedsRelogin(err) {
		t.Fatalf("expected AUTH_REQUIRED, got %v", err)
	}
}

func TestGetAccessTokenStillValid(t *testing.T) {
	store := newFakeTokenStore()
	store.rows["g1"] = &domain.AccountToken{
		GroupID:     "g1",
		AccessToken: "valid-token",
		ATExpiresAt: time.Now().Add(time.Hour).Unix(),
	}
	// No endpoint configured: any refresh attempt would fail loudly.
	svc := newTestService(store, "")

	got, err := svc.GetAccessToken(context.Background(), "g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "valid-token" {
		t.Fatalf("got %q, want valid-token", got)
	}
}

func TestGetAccessTokenInsideBufferRefreshes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.Form.Get("refresh_token"); got != "rt-old" {
			t.Errorf("refresh_token = %q, want rt-old", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-new","token_type":"Bearer","expires_in":3600,"refresh_token":"rt-new"}`))
	}))
	defer server.Close()

	store := newFakeTokenStore()
	store.rows["g1"] = &domain.AccountToken{
		GroupID:      "g1",
		AccessToken:  "at-old",
		RefreshToken: "rt-old",
		// 60s remaining is inside the 300s refresh buffer.
		ATExpiresAt: time.Now().Add(60 * time.Second).Unix(),
	}
	svc := newTestService(store, server.URL)

	got, err := svc.GetAccessToken(context.Background(), "g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "at-new" {
		t.Fatalf("got %q, want at-new", got)
	}

	row := store.rows["g1"]
	if row.RefreshToken != "rt-new" {
		t.Errorf("refresh token not rotated: %q", row.RefreshToken)
	}
	if row.ATExpiresAt <= time.Now().Unix() {
		t.Errorf("expiry not advanced: %d", row.ATExpiresAt)
	}
}

func TestRefreshKeepsPreviousRefreshTokenWhenOmitted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-new","token_type":"Bearer","expires_in":3600}`))
	}))
	defer server.Close()

	store := newFakeTokenStore()
	store.rows["g1"] = &domain.AccountToken{
		GroupID:      "g1",
		RefreshToken: "rt-keep",
		ATExpiresAt:  time.Now().Add(-time.Minute).Unix(),
	}
	svc := newTestService(store, server.URL)

	if _, err := svc.GetAccessToken(context.Background(), "g1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := store.rows["g1"].RefreshToken; got != "rt-keep" {
		t.Fatalf("refresh token = %q, want rt-keep", got)
	}
}

func TestRefreshInvalidGrantDropsRow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"AADSTS70000"}`))
	}))
	defer server.Close()

	store := newFakeTokenStore()
	store.rows["g1"] = &domain.AccountToken{
		GroupID:      "g1",
		RefreshToken: "rt-dead",
		ATExpiresAt:  time.Now().Add(-time.Minute).Unix(),
	}
	svc := newTestService(store, server.URL)

	_, err := svc.GetAccessToken(context.Background(), "g1")
	if !apperr.NeedsRelogin(err) {
		t.Fatalf("expected AUTH_REQUIRED, got %v", err)
	}
	if _, ok := store.rows["g1"]; ok {
		t.Fatal("token row should have been deleted")
	}
}

func TestRefreshEndpointOutageIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	store := newFakeTokenStore()
	store.rows["g1"] = &domain.AccountToken{
		GroupID:      "g1",
		RefreshToken: "rt-ok",
		ATExpiresAt:  time.Now().Add(-time.Minute).Unix(),
	}
	svc := newTestService(store, server.URL)

	_, err := svc.GetAccessToken(context.Background(), "g1")
	if !apperr.IsCode(err, apperr.CodeAuthTransient) {
		t.Fatalf("expected AUTH_TRANSIENT, got %v", err)
	}
	if _, ok := store.rows["g1"]; !ok {
		t.Fatal("token row must survive a transient outage")
	}
}

func TestConcurrentRefreshCollapses(t *testing.T) {
	var hits int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-new","token_type":"Bearer","expires_in":3600,"refresh_token":"rt-new"}`))
	}))
	defer server.Close()

	store := newFakeTokenStore()
	store.rows["g1"] = &domain.AccountToken{
		GroupID:      "g1",
		RefreshToken: "rt-old",
		ATExpiresAt:  time.Now().Add(-time.Minute).Unix(),
	}
	svc := newTestService(store, server.URL)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := svc.GetAccessToken(context.Background(), "g1")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if got != "at-new" {
				t.Errorf("got %q, want at-new", got)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if hits != 1 {
		t.Fatalf("endpoint hit %d times, want 1", hits)
	}
}

func TestStoreCredentialAndRevoke(t *testing.T) {
	store := newFakeTokenStore()
	svc := newTestService(store, "")

	triple := &domain.TokenTriple{
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour),
		TenantID:     "common",
	}
	if err := svc.StoreCredential(context.Background(), "g1", triple); err != nil {
		t.Fatalf("store credential: %v", err)
	}

	row := store.rows["g1"]
	if row == nil || row.AccessToken != "at" {
		t.Fatalf("row not stored: %+v", row)
	}
	if row.RTExpiresAt <= time.Now().Add(89*24*time.Hour).Unix() {
		t.Errorf("refresh token lifetime too short: %d", row.RTExpiresAt)
	}

	if err := svc.Revoke(context.Background(), "g1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, ok := store.rows["g1"]; ok {
		t.Fatal("row should be gone after revoke")
	}
}
