// Package secrets stores tenant exchange credentials in Vault KV v2,
// with an in-memory cache in front. Deployments without a Vault keep
// working: the store then only serves what was put into it at runtime,
// and tenants fall back to their env files.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"github.com/rmsfid11-commits/trading-bot-sub000/config"
)

// ErrNotFound means no credentials exist for the tenant.
var ErrNotFound = errors.New("credentials not found")

const defaultMount = "secret"

// Credentials is one tenant's exchange key pair.
type Credentials struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
}

// Store reads and writes tenant credentials.
type Store struct {
	client *api.Client // nil when Vault is not configured
	mount  string

	mu    sync.RWMutex
	cache map[string]Credentials
}

// New builds the store. An empty Vault address yields a cache-only
// store rather than an error.
func New(cfg config.Vault) (*Store, error) {
	s := &Store{
		mount: cfg.MountPath,
		cache: make(map[string]Credentials),
	}
	if s.mount == "" {
		s.mount = defaultMount
	}
	if cfg.Addr == "" {
		return s, nil
	}

	vc := api.DefaultConfig()
	vc.Address = cfg.Addr
	client, err := api.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	s.client = client
	return s, nil
}

// Enabled reports whether a Vault backend is configured.
func (s *Store) Enabled() bool { return s.client != nil }

// Get returns the tenant's credentials, consulting the cache first.
func (s *Store) Get(ctx context.Context, tenantID string) (*Credentials, error) {
	s.mu.RLock()
	if c, ok := s.cache[tenantID]; ok {
		s.mu.RUnlock()
		return &c, nil
	}
	s.mu.RUnlock()

	if s.client == nil {
		return nil, ErrNotFound
	}

	secret, err := s.client.Logical().ReadWithContext(ctx, s.dataPath(tenantID))
	if err != nil {
		return nil, fmt.Errorf("vault read %s: %w", tenantID, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, ErrNotFound
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("vault secret for %s has no kv2 data block", tenantID)
	}

	c := Credentials{
		AccessKey: getString(data, "access_key"),
		SecretKey: getString(data, "secret_key"),
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	s.cache[tenantID] = c
	s.mu.Unlock()
	return &c, nil
}

// Put stores the tenant's credentials and refreshes the cache.
func (s *Store) Put(ctx context.Context, tenantID string, c Credentials) error {
	if s.client != nil {
		payload := map[string]interface{}{
			"data": map[string]interface{}{
				"access_key": c.AccessKey,
				"secret_key": c.SecretKey,
			},
		}
		if _, err := s.client.Logical().WriteWithContext(ctx, s.dataPath(tenantID), payload); err != nil {
			return fmt.Errorf("vault write %s: %w", tenantID, err)
		}
	}

	s.mu.Lock()
	s.cache[tenantID] = c
	s.mu.Unlock()
	return nil
}

// Delete removes the tenant's credentials everywhere.
func (s *Store) Delete(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	delete(s.cache, tenantID)
	s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	if _, err := s.client.Logical().DeleteWithContext(ctx, s.metadataPath(tenantID)); err != nil {
		return fmt.Errorf("vault delete %s: %w", tenantID, err)
	}
	return nil
}

// Invalidate drops one tenant from the cache, forcing the next Get to
// hit Vault.
func (s *Store) Invalidate(tenantID string) {
	s.mu.Lock()
	delete(s.cache, tenantID)
	s.mu.Unlock()
}

// Health checks the Vault connection. A cache-only store is healthy.
func (s *Store) Health(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	health, err := s.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health: %w", err)
	}
	if health.Sealed {
		return errors.New("vault is sealed")
	}
	return nil
}

func (s *Store) dataPath(tenantID string) string {
	return fmt.Sprintf("%s/data/tenants/%s", s.mount, tenantID)
}

func (s *Store) metadataPath(tenantID string) string {
	return fmt.Sprintf("%s/metadata/tenants/%s", s.mount, tenantID)
}

func getString(data map[string]interface{}, key string) string {
	v, _ := data[key].(string)
	return v
}
