package tenants

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leozw/agentpulse/internal/core"
	"github.com/leozw/agentpulse/internal/db"
)

// KeyPrefix marks every issued credential.
const KeyPrefix = "ap_"

var keyPattern = regexp.MustCompile(`^ap_[0-9a-f]{32}$`)

type Registry struct {
	store  db.Store
	clock  quartz.Clock
	logger *zap.Logger
}

func NewRegistry(store db.Store, clock quartz.Clock, logger *zap.Logger) *Registry {
	return &Registry{store: store, clock: clock, logger: logger}
}

// GenerateKey returns a fresh credential: the prefix followed by 128 random bits in hex.
func GenerateKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(buf), nil
}

// HashKey is the only form of a credential that is ever stored.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// WellFormed reports whether key has the shape of an issued credential.
func WellFormed(key string) bool {
	return keyPattern.MatchString(key)
}

// Registration is returned once; the plaintext key is not recoverable afterwards.
type Registration struct {
	Tenant *db.Tenant
	APIKey string
}

func (r *Registry) Register(ctx context.Context, name, email string) (*Registration, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)

	if len(name) < 2 || len(name) > 64 {
		return nil, core.Validation("name must be between 2 and 64 characters")
	}
	if email != "" && (len(email) > 254 || !strings.Contains(email, "@")) {
		return nil, core.Validation("invalid email")
	}

	key, err := GenerateKey()
	if err != nil {
		return nil, core.Internal(err, "failed to generate api key")
	}

	tenant := &db.Tenant{
		ID:        uuid.New().String(),
		Name:      name,
		KeyHash:   HashKey(key),
		Plan:      core.PlanFree,
		CreatedAt: r.clock.Now().UTC(),
	}
	if email != "" {
		tenant.Email = &email
	}

	if err := r.store.CreateTenant(ctx, tenant); err != nil {
		return nil, err
	}

	r.logger.Info("Tenant registered",
		zap.String("tenant_id", tenant.ID),
		zap.String("plan", string(tenant.Plan)),
	)

	return &Registration{Tenant: tenant, APIKey: key}, nil
}

// Authenticate resolves a bearer credential to its tenant. A malformed key is
// an auth error; a well-formed key that matches nobody is forbidden.
func (r *Registry) Authenticate(ctx context.Context, key string) (*db.Tenant, error) {
	if !WellFormed(key) {
		return nil, core.Unauthorized("Invalid API key")
	}

	tenant, err := r.store.GetTenantByKeyHash(ctx, HashKey(key))
	if err != nil {
		if core.IsNotFound(err) {
			return nil, core.Forbidden("Invalid API key")
		}
		return nil, err
	}
	return tenant, nil
}
