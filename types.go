package authcore

import (
	"encoding/json"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Audience is the aud claim of an access token. On the wire it is either a
// single string or a set of strings (RFC 7519 section 4.1.3); a one-element
// audience marshals as a bare string so tokens bound to a single resource
// keep the compact form.
type Audience []string

// MarshalJSON implements json.Marshaler
func (a Audience) MarshalJSON() ([]byte, error) {
	if len(a) == 1 {
		return json.Marshal(a[0])
	}
	return json.Marshal([]string(a))
}

// UnmarshalJSON implements json.Unmarshaler, accepting both forms
func (a *Audience) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*a = Audience{single}
		return nil
	}
	var multi []string
	if err := json.Unmarshal(data, &multi); err != nil {
		return fmt.Errorf("aud claim must be a string or array of strings: %w", err)
	}
	*a = Audience(multi)
	return nil
}

// Contains reports whether the audience includes the given value.
// Values are compared verbatim; callers normalize first.
func (a Audience) Contains(value string) bool {
	for _, v := range a {
		if v == value {
			return true
		}
	}
	return false
}

// UserProfile carries optional end-user identity embedded in a token
type UserProfile struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
}

// TokenClaims is the claim set carried by access tokens issued by this
// module. The Audience field shadows the embedded RegisteredClaims audience
// so the string-or-set wire form is preserved on marshal; the embedded
// claims still provide exp/iat validation during parsing.
type TokenClaims struct {
	jwt.RegisteredClaims

	// Audience is the intended resource(s) of the token (RFC 8707 binding)
	Audience Audience `json:"aud,omitempty"`

	// Scope is the space-delimited list of granted scopes
	Scope string `json:"scope,omitempty"`

	// ClientID identifies the OAuth client the token was issued to
	ClientID string `json:"client_id,omitempty"`

	// User is the optional end-user profile
	User *UserProfile `json:"user,omitempty"`
}

// ValidationResult is the outcome of validating an access token.
// Expected failures are reported here as values, never as errors.
type ValidationResult struct {
	// Valid reports whether signature, expiry and audience all checked out
	Valid bool

	// Claims is the decoded payload. It is set when the token is valid and,
	// for inspection, when the token parsed but failed validation (e.g.
	// expired). It is nil for structurally malformed tokens.
	Claims *TokenClaims

	// Error is a human-readable failure description
	Error string

	// ErrorCode is one of invalid_token, expired, invalid_audience
	ErrorCode string

	// ScopeCheck holds the scope evaluation when requested via
	// ValidateTokenWithScopes. It is nil when the token itself was invalid:
	// "could not evaluate" is distinct from "evaluated and insufficient".
	ScopeCheck *ScopeValidationResult
}

// ScopeValidationResult is the outcome of checking a scope string against an
// operation's requirements
type ScopeValidationResult struct {
	// Valid is true only if every required scope is satisfied
	Valid bool

	// RequiredScopes lists the scopes the operation requires
	RequiredScopes []string

	// MissingScopes lists required scopes absent from the caller's expansion
	MissingScopes []string
}

// ResourceMatchResult is the outcome of comparing requested resources
// against the set authorized earlier in the flow (RFC 8707)
type ResourceMatchResult struct {
	// Valid reports whether every requested resource was authorized
	Valid bool

	// Error describes the mismatch, naming the first unauthorized resource
	Error string
}

// TokenInfo is an introspection summary of a token, valid or not
type TokenInfo struct {
	// Claims is the decoded payload, nil for malformed input
	Claims *TokenClaims

	// ExpiresIn is the number of seconds until expiry (negative if past)
	ExpiresIn int64

	// Expired reports whether the expiry has passed; forced true for
	// malformed input
	Expired bool

	// Audience is the token's audience claim
	Audience Audience
}
