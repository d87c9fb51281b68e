package authcore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/observekit/mcp-authcore/instrumentation"
	"github.com/observekit/mcp-authcore/internal/util"
	"github.com/observekit/mcp-authcore/security"
)

// signingMethods maps configured algorithm names to golang-jwt methods
var signingMethods = map[string]jwt.SigningMethod{
	"HS256": jwt.SigningMethodHS256,
	"HS384": jwt.SigningMethodHS384,
	"HS512": jwt.SigningMethodHS512,
}

// Service issues and validates signed access tokens, binding the audience
// claim per RFC 8707. It owns no per-request state: every method is a pure
// function over the configuration and its input, so a single instance is
// safe for concurrent use.
type Service struct {
	config  TokenConfig
	method  jwt.SigningMethod
	parser  *jwt.Parser
	logger  *slog.Logger
	auditor *security.Auditor
	metrics *instrumentation.Metrics
}

// NewService creates a token service from the given configuration.
// The service should be constructed once by the composition root and passed
// to consumers; see Default for the legacy process-wide accessor.
func NewService(config TokenConfig) (*Service, error) {
	config, err := config.withDefaults()
	if err != nil {
		return nil, err
	}

	method, ok := signingMethods[config.Algorithm]
	if !ok {
		return nil, fmt.Errorf("unsupported signing algorithm %q (supported: HS256, HS384, HS512)", config.Algorithm)
	}

	return &Service{
		config: config,
		method: method,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{config.Algorithm}),
			jwt.WithLeeway(config.Leeway),
		),
		logger: config.Logger,
	}, nil
}

// SetAuditor attaches a security auditor for token lifecycle events
func (s *Service) SetAuditor(auditor *security.Auditor) {
	s.auditor = auditor
}

// SetInstrumentation attaches OpenTelemetry metrics
func (s *Service) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst != nil {
		s.metrics = inst.Metrics()
	}
}

// Audience returns the configured audience the service enforces by default
func (s *Service) Audience() string {
	return s.config.Audience
}

// newTokenID returns a fresh random 128-bit token id rendered as hex
func newTokenID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// CreateToken signs and returns a compact token for the given claim set.
// Missing fields are defaulted: subject "unknown", the baseline scope, a
// fresh random token id, issued-at now, expiry now plus the configured
// lifetime, and the configured audience and issuer.
func (s *Service) CreateToken(claims TokenClaims) (string, error) {
	now := time.Now()

	if claims.Subject == "" {
		claims.Subject = "unknown"
	}
	if claims.Scope == "" {
		claims.Scope = ScopeBaseline
	}
	if claims.ID == "" {
		claims.ID = newTokenID()
	}
	if len(claims.Audience) == 0 {
		claims.Audience = Audience{s.config.Audience}
	}
	claims.Issuer = s.config.Issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.config.Lifetime))

	token, err := jwt.NewWithClaims(s.method, &claims).SignedString(s.config.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	s.logger.Debug("Access token issued",
		"subject", claims.Subject,
		"client_id", claims.ClientID,
		"scope", claims.Scope,
		"token_id", util.SafeTruncate(claims.ID, 8),
		"expires_at", claims.ExpiresAt.Time)

	if s.auditor != nil {
		s.auditor.LogTokenIssued(claims.Subject, claims.ClientID, claims.Scope)
	}
	if s.metrics != nil {
		s.metrics.TokensIssued.Add(context.Background(), 1)
	}

	return token, nil
}

// ValidateToken verifies the token's signature, expiry and audience.
// An empty expectedAudience falls back to the configured audience; the
// token's aud claim must equal, or as a set contain, that value after
// normalization. Audience binding is the defense against a token minted
// for one resource being replayed against another.
func (s *Service) ValidateToken(tokenString, expectedAudience string) *ValidationResult {
	claims := &TokenClaims{}
	_, err := s.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.config.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			// Expired tokens parsed and verified fine otherwise; keep the
			// payload for inspection.
			return s.validationFailure(ErrorCodeTokenExpired, "token has expired", claims)
		}
		return s.validationFailure(ErrorCodeInvalidToken, "token is malformed or has an invalid signature", nil)
	}

	expected := expectedAudience
	if expected == "" {
		expected = s.config.Audience
	}
	if expected != "" && !audienceMatches(claims.Audience, expected) {
		return s.validationFailure(ErrorCodeInvalidAudience,
			fmt.Sprintf("token audience does not include %q", expected), claims)
	}

	s.recordValidation("valid")
	return &ValidationResult{Valid: true, Claims: claims}
}

// ValidateTokenWithScopes validates the token and, only if it is valid,
// evaluates the required scopes against the token's scope claim. When the
// token is invalid, ScopeCheck stays nil.
func (s *Service) ValidateTokenWithScopes(tokenString string, requiredScopes []string) *ValidationResult {
	result := s.ValidateToken(tokenString, "")
	if !result.Valid {
		return result
	}

	check := CheckRequiredScopes(result.Claims.Scope, requiredScopes)
	result.ScopeCheck = &check

	if !check.Valid && s.auditor != nil {
		s.auditor.LogScopeDenied(result.Claims.Subject, "", check.MissingScopes)
	}

	return result
}

// DecodeToken returns the token payload without verifying the signature.
// Introspection only; never use the result for authorization decisions.
// Returns nil for structurally malformed input.
func (s *Service) DecodeToken(tokenString string) *TokenClaims {
	claims := &TokenClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(tokenString, claims)
	if err != nil {
		return nil
	}
	return claims
}

// GetTokenInfo summarizes a token for introspection: decoded payload,
// seconds until expiry, an expired flag and the audience. Malformed input
// yields nulled fields with Expired forced true.
func (s *Service) GetTokenInfo(tokenString string) TokenInfo {
	claims := s.DecodeToken(tokenString)
	if claims == nil {
		return TokenInfo{Expired: true}
	}

	info := TokenInfo{
		Claims:   claims,
		Audience: claims.Audience,
	}
	if claims.ExpiresAt != nil {
		info.ExpiresIn = int64(time.Until(claims.ExpiresAt.Time).Seconds())
		info.Expired = time.Now().After(claims.ExpiresAt.Time)
	}
	return info
}

func (s *Service) validationFailure(code, description string, claims *TokenClaims) *ValidationResult {
	s.logger.Debug("Token validation failed", "error_code", code, "error", description)
	if s.auditor != nil {
		s.auditor.LogTokenValidationFailed(code, description)
	}
	s.recordValidation(code)
	return &ValidationResult{
		Claims:    claims,
		Error:     description,
		ErrorCode: code,
	}
}

func (s *Service) recordValidation(outcome string) {
	if s.metrics != nil {
		s.metrics.TokenValidations.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// audienceMatches reports whether the aud claim includes the expected
// value. Both sides are normalized so trailing-slash differences between
// resource identifiers never cause spurious mismatches.
func audienceMatches(aud Audience, expected string) bool {
	want := util.NormalizeURL(expected)
	for _, a := range aud {
		if util.NormalizeURL(a) == want {
			return true
		}
	}
	return false
}

// ==================== Process-wide accessor ====================

var (
	defaultMu      sync.Mutex
	defaultService *Service
)

// Default returns the process-wide token service, creating it from config
// on first call and returning the same instance thereafter. Later configs
// are ignored.
//
// Prefer constructing a Service explicitly with NewService and passing it
// from the composition root; this accessor exists for embedders that have
// no composition root and for tests, paired with ResetDefault.
func Default(config TokenConfig) (*Service, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultService == nil {
		svc, err := NewService(config)
		if err != nil {
			return nil, err
		}
		defaultService = svc
	}
	return defaultService, nil
}

// ResetDefault discards the process-wide token service so the next Default
// call builds a fresh one. Intended for test isolation and explicit
// reconfiguration only.
func ResetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultService = nil
}
