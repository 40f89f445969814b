// Package vault resolves exchange credentials from a HashiCorp Vault KV v2 mount.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"
)

// ErrNotFound is returned when no credentials exist at the configured path
var ErrNotFound = errors.New("credentials not found")

// Config locates the secret. Disabled clients only serve what was stored locally.
type Config struct {
	Enabled    bool   `json:"enabled" toml:"enabled"`
	Address    string `json:"address" toml:"address"`
	Token      string `json:"-" toml:"-"` // VAULT_TOKEN only
	MountPath  string `json:"mount_path" toml:"mount_path"`
	SecretPath string `json:"secret_path" toml:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled" toml:"tls_enabled"`
	CACert     string `json:"ca_cert" toml:"ca_cert"`
}

// Credentials stored per exchange network
type Credentials struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	Exchange  string `json:"exchange"`
	IsTestnet bool   `json:"is_testnet"`
}

// Client wraps the HashiCorp Vault client
type Client struct {
	client *api.Client
	config Config
	mu     sync.RWMutex
	cache  map[string]*Credentials
}

// NewClient creates a new Vault client
func NewClient(cfg Config) (*Client, error) {
	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}
	if cfg.SecretPath == "" {
		cfg.SecretPath = "crt-engine"
	}
	c := &Client{config: cfg, cache: make(map[string]*Credentials)}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		if err := vaultConfig.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACert}); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	c.client = client
	return c, nil
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Store writes credentials for exchange and network
func (c *Client) Store(ctx context.Context, creds Credentials) error {
	if c.config.Enabled {
		payload := map[string]interface{}{
			"data": map[string]interface{}{
				"api_key":    creds.APIKey,
				"secret_key": creds.SecretKey,
				"exchange":   creds.Exchange,
				"is_testnet": creds.IsTestnet,
			},
		}
		if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(creds.Exchange, creds.IsTestnet), payload); err != nil {
			return fmt.Errorf("failed to store credentials in vault: %w", err)
		}
	}
	c.mu.Lock()
	c.cache[c.cacheKey(creds.Exchange, creds.IsTestnet)] = &creds
	c.mu.Unlock()
	return nil
}

// Get reads credentials for exchange and network, cached after the first read
func (c *Client) Get(ctx context.Context, exchange string, isTestnet bool) (*Credentials, error) {
	key := c.cacheKey(exchange, isTestnet)
	c.mu.RLock()
	if cached, ok := c.cache[key]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return nil, ErrNotFound
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(exchange, isTestnet))
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, ErrNotFound
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	creds := &Credentials{
		APIKey:    getString(data, "api_key"),
		SecretKey: getString(data, "secret_key"),
		Exchange:  exchange,
		IsTestnet: isTestnet,
	}
	if creds.APIKey == "" || creds.SecretKey == "" {
		return nil, ErrNotFound
	}

	c.mu.Lock()
	c.cache[key] = creds
	c.mu.Unlock()
	return creds, nil
}

// ClearCache drops cached credentials so the next Get reads Vault again
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]*Credentials)
	c.mu.Unlock()
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func network(isTestnet bool) string {
	if isTestnet {
		return "testnet"
	}
	return "mainnet"
}

// secretPath returns the KV v2 data path
func (c *Client) secretPath(exchange string, isTestnet bool) string {
	return fmt.Sprintf("%s/data/%s/%s_%s", c.config.MountPath, c.config.SecretPath, exchange, network(isTestnet))
}

func (c *Client) cacheKey(exchange string, isTestnet bool) string {
	return exchange + "_" + network(isTestnet)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		switch v := val.(type) {
		case string:
			return v
		case json.Number:
			return v.String()
		}
	}
	return ""
}
