package authcore

import (
	"errors"
	"testing"
)

func TestClientRegistry_RegisterAndAuthenticate(t *testing.T) {
	registry := NewClientRegistry(nil)

	client, secret, err := registry.Register("alert-forwarder", []string{"monitor:access", "alerts:read"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if client.ID == "" {
		t.Error("client id should be generated")
	}
	if secret == "" {
		t.Error("plaintext secret should be returned once")
	}
	if string(client.SecretHash) == secret {
		t.Error("secret must not be stored in the clear")
	}

	authed, err := registry.Authenticate(client.ID, secret)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if authed.Name != "alert-forwarder" {
		t.Errorf("name = %q, want %q", authed.Name, "alert-forwarder")
	}
}

func TestClientRegistry_AuthenticateFailures(t *testing.T) {
	registry := NewClientRegistry(nil)
	client, _, err := registry.Register("dashboard-sync", nil)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	tests := []struct {
		name     string
		clientID string
		secret   string
	}{
		{name: "wrong secret", clientID: client.ID, secret: "not-the-secret"},
		{name: "empty secret", clientID: client.ID, secret: ""},
		{name: "unknown client", clientID: "no-such-client", secret: "anything"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := registry.Authenticate(tt.clientID, tt.secret)
			var authErr *AuthError
			if !errors.As(err, &authErr) {
				t.Fatalf("error = %v, want *AuthError", err)
			}
			if authErr.Code != ErrorCodeInvalidClient {
				t.Errorf("code = %q, want %q", authErr.Code, ErrorCodeInvalidClient)
			}
		})
	}
}

func TestClientRegistry_RegisterRequiresName(t *testing.T) {
	registry := NewClientRegistry(nil)

	_, _, err := registry.Register("", nil)
	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.Code != ErrorCodeInvalidClient {
		t.Errorf("Register(\"\") error = %v, want invalid_client", err)
	}
}

func TestClientRegistry_GetAndCount(t *testing.T) {
	registry := NewClientRegistry(nil)

	if registry.Count() != 0 {
		t.Errorf("Count() = %d, want 0", registry.Count())
	}

	client, _, err := registry.Register("reporting", nil)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, ok := registry.Get(client.ID)
	if !ok || got.ID != client.ID {
		t.Errorf("Get() = %+v, %v", got, ok)
	}
	if _, ok := registry.Get("missing"); ok {
		t.Error("Get(missing) should report absence")
	}
	if registry.Count() != 1 {
		t.Errorf("Count() = %d, want 1", registry.Count())
	}
}

func TestClientRegistry_TokenIssuanceFlow(t *testing.T) {
	// Full issuance path: authenticate the confidential client, then mint
	// a token carrying its id and granted scopes.
	registry := NewClientRegistry(nil)
	client, secret, err := registry.Register("sdt-scheduler", []string{"monitor:access", "sdt:write"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	authed, err := registry.Authenticate(client.ID, secret)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	svc := newTestService(t, TokenConfig{})
	token, err := svc.CreateToken(TokenClaims{
		ClientID: authed.ID,
		Scope:    JoinScopes(authed.Scopes),
	})
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}

	result := svc.ValidateTokenWithScopes(token, ToolScopes("create_resource_sdt"))
	if !result.Valid || result.ScopeCheck == nil || !result.ScopeCheck.Valid {
		t.Errorf("client token should authorize its granted tools: %+v", result)
	}
}
