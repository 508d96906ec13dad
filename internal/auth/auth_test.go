package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

// mockTokenStore is a mock implementation of TokenStore for testing.
type mockTokenStore struct {
	token       *oauth2.Token
	savedTokens []*oauth2.Token
}

func (m *mockTokenStore) SaveToken(token *oauth2.Token) error {
	m.savedTokens = append(m.savedTokens, token)
	m.token = token
	return nil
}

func (m *mockTokenStore) LoadToken() (*oauth2.Token, error) {
	return m.token, nil
}

// sequenceTokenSource hands out the given tokens in order.
type sequenceTokenSource struct {
	tokens []*oauth2.Token
}

func (s *sequenceTokenSource) Token() (*oauth2.Token, error) {
	if len(s.tokens) == 0 {
		return nil, errors.New("no more tokens")
	}
	tok := s.tokens[0]
	s.tokens = s.tokens[1:]
	return tok, nil
}

func TestGetAuthenticatedClient_TokenExists(t *testing.T) {
	mockStore := &mockTokenStore{
		token: &oauth2.Token{
			AccessToken:  "test-access-token",
			RefreshToken: "test-refresh-token",
			Expiry:       time.Now().Add(1 * time.Hour),
			TokenType:    "Bearer",
		},
	}

	client, err := GetAuthenticatedClient(context.Background(), "test", GoogleConfig("id", "secret"), mockStore)
	if err != nil {
		t.Fatalf("GetAuthenticatedClient() returned an error: %v", err)
	}
	if client == nil {
		t.Fatal("GetAuthenticatedClient() returned nil client")
	}
	if len(mockStore.savedTokens) != 0 {
		t.Errorf("Expected no token saves for a valid stored token, got %d", len(mockStore.savedTokens))
	}
}

func TestAutoSaveTokenSource_SavesOnlyRefreshedTokens(t *testing.T) {
	first := &oauth2.Token{AccessToken: "a"}
	refreshed := &oauth2.Token{AccessToken: "b"}
	store := &mockTokenStore{}

	src := &autoSaveTokenSource{
		source:     &sequenceTokenSource{tokens: []*oauth2.Token{first, first, refreshed}},
		tokenStore: store,
		lastToken:  first,
	}

	for i := 0; i < 3; i++ {
		if _, err := src.Token(); err != nil {
			t.Fatalf("Token() call %d returned an error: %v", i, err)
		}
	}

	if len(store.savedTokens) != 1 || store.savedTokens[0].AccessToken != "b" {
		t.Errorf("Expected exactly the refreshed token to be saved, got %+v", store.savedTokens)
	}
}

func TestMicrosoftConfig(t *testing.T) {
	cfg := MicrosoftConfig("contoso", "client", "")

	if !strings.Contains(cfg.Endpoint.AuthURL, "/contoso/") {
		t.Errorf("Expected tenant in auth URL, got %s", cfg.Endpoint.AuthURL)
	}
	found := false
	for _, s := range cfg.Scopes {
		if s == GraphScheduleScope {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected scope %s in %v", GraphScheduleScope, cfg.Scopes)
	}
}

func TestLocalServer_StateMismatch(t *testing.T) {
	cs, err := startLocalServer("expected-state")
	if err != nil {
		t.Fatalf("startLocalServer() returned an error: %v", err)
	}
	defer cs.close()

	resp, err := http.Get(fmt.Sprintf("%s/?state=other&code=xyz", cs.redirectURL))
	if err != nil {
		t.Fatalf("callback request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected HTTP 400 for a state mismatch, got %d", resp.StatusCode)
	}

	select {
	case err := <-cs.errs:
		if err == nil {
			t.Error("Expected a state mismatch error")
		}
	case <-time.After(time.Second):
		t.Fatal("Expected an error on the error channel")
	}
}

func TestLocalServer_ReceivesCode(t *testing.T) {
	cs, err := startLocalServer("s1")
	if err != nil {
		t.Fatalf("startLocalServer() returned an error: %v", err)
	}
	defer cs.close()

	q := url.Values{"state": {"s1"}, "code": {"auth-code"}}
	resp, err := http.Get(cs.redirectURL + "/?" + q.Encode())
	if err != nil {
		t.Fatalf("callback request failed: %v", err)
	}
	resp.Body.Close()

	select {
	case code := <-cs.codes:
		if code != "auth-code" {
			t.Errorf("Expected code 'auth-code', got %q", code)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected a code on the code channel")
	}
}
