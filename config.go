package authcore

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultIssuer is the placeholder issuer used when none is configured.
	// Deployments behind a real hostname must set TokenConfig.Issuer.
	DefaultIssuer = "http://localhost:8080"

	// DefaultAudience is the placeholder audience used when none is configured
	DefaultAudience = "http://localhost:8080"

	// DefaultTokenLifetime is the default access token lifetime
	DefaultTokenLifetime = 3600 * time.Second

	// DefaultAlgorithm is the default symmetric signing algorithm
	DefaultAlgorithm = "HS256"

	// generatedSecretLength is the size of an auto-generated signing secret
	generatedSecretLength = 32
)

// TokenConfig holds the token service configuration
type TokenConfig struct {
	// Secret is the symmetric signing key. When empty a random
	// 32-byte secret is generated; tokens then only validate within the
	// issuing process, which is fine for development and tests but not for
	// multi-instance deployments.
	Secret []byte

	// Algorithm is the HMAC signing algorithm: HS256 (default), HS384 or HS512
	Algorithm string

	// Issuer is the iss claim stamped on issued tokens
	Issuer string

	// Audience is the default aud claim for issued tokens and the expected
	// audience enforced during validation when the caller supplies none
	Audience string

	// Lifetime is how long issued tokens remain valid
	Lifetime time.Duration

	// Leeway is the clock-skew grace applied to expiry checks during
	// validation. Zero keeps expiry exact; deployments with drifting
	// clocks typically set a few seconds.
	Leeway time.Duration

	// Logger receives structured logs; slog.Default() when nil
	Logger *slog.Logger
}

// withDefaults returns a copy of the config with defaults applied.
// A missing secret is replaced with a freshly generated random one.
func (c TokenConfig) withDefaults() (TokenConfig, error) {
	if len(c.Secret) == 0 {
		secret := make([]byte, generatedSecretLength)
		if _, err := rand.Read(secret); err != nil {
			return c, fmt.Errorf("failed to generate signing secret: %w", err)
		}
		c.Secret = secret
	}
	if c.Algorithm == "" {
		c.Algorithm = DefaultAlgorithm
	}
	if c.Issuer == "" {
		c.Issuer = DefaultIssuer
	}
	if c.Audience == "" {
		c.Audience = DefaultAudience
	}
	if c.Lifetime == 0 {
		c.Lifetime = DefaultTokenLifetime
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c, nil
}
