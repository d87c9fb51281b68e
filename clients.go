package authcore

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/observekit/mcp-authcore/security"
)

// clientSecretLength is the size in bytes of generated client secrets
const clientSecretLength = 32

// Client is a confidential OAuth client allowed to mint service tokens.
// Only the bcrypt hash of the secret is retained.
type Client struct {
	ID         string
	Name       string
	SecretHash []byte
	Scopes     []string
	CreatedAt  time.Time
}

// ClientRegistry holds the confidential clients known to this process.
// It is not persistent: registration lives for the process lifetime only.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *slog.Logger
	auditor *security.Auditor
}

// NewClientRegistry creates an empty client registry
func NewClientRegistry(logger *slog.Logger) *ClientRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientRegistry{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// SetAuditor attaches a security auditor for client lifecycle events
func (r *ClientRegistry) SetAuditor(auditor *security.Auditor) {
	r.auditor = auditor
}

// Register creates a confidential client with a generated id and secret.
// The plaintext secret is returned exactly once; only its bcrypt hash is
// stored.
func (r *ClientRegistry) Register(name string, scopes []string) (*Client, string, error) {
	if name == "" {
		return nil, "", ErrInvalidClient("client name is required")
	}

	secretBytes := make([]byte, clientSecretLength)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, "", fmt.Errorf("failed to generate client secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash client secret: %w", err)
	}

	client := &Client{
		ID:         uuid.NewString(),
		Name:       name,
		SecretHash: hash,
		Scopes:     scopes,
		CreatedAt:  time.Now(),
	}

	r.mu.Lock()
	r.clients[client.ID] = client
	r.mu.Unlock()

	r.logger.Info("Confidential client registered",
		"client_id", client.ID,
		"client_name", name,
		"scopes", scopes)
	if r.auditor != nil {
		r.auditor.LogClientRegistered(client.ID, name)
	}

	return client, secret, nil
}

// Authenticate verifies a client id and secret, returning the client on
// success and an invalid_client error otherwise. bcrypt comparison keeps
// the check constant-time with respect to the stored hash.
func (r *ClientRegistry) Authenticate(clientID, secret string) (*Client, error) {
	r.mu.RLock()
	client, ok := r.clients[clientID]
	r.mu.RUnlock()

	if !ok {
		if r.auditor != nil {
			r.auditor.LogClientAuthFailure(clientID, "unknown client")
		}
		return nil, ErrInvalidClient("unknown client")
	}

	if err := bcrypt.CompareHashAndPassword(client.SecretHash, []byte(secret)); err != nil {
		if r.auditor != nil {
			r.auditor.LogClientAuthFailure(clientID, "secret mismatch")
		}
		return nil, ErrInvalidClient("client authentication failed")
	}

	return client, nil
}

// Get returns a registered client by id
func (r *ClientRegistry) Get(clientID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[clientID]
	return client, ok
}

// Count returns the number of registered clients
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
