package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ManagedByLabel marks every container owned by the gateway. It is an
// external identifier: changing it orphans containers created by previous
// versions, so it must stay stable across releases.
const (
	ManagedByLabelKey   = "managed-by"
	ManagedByLabelValue = "code-interpreter-gateway"
)

// DiskLimitEnvVar is read by the worker entrypoint to size its scratch disk.
const DiskLimitEnvVar = "WORKER_DISK_LIMIT_MB"

type Options struct {
	Port int

	WorkerImage         string
	InternalNetworkName string

	MinIdleWorkers  int
	MaxTotalWorkers int

	WorkerIdleTimeout time.Duration
	RecyclingInterval time.Duration

	ExecutionTimeout time.Duration
	ProxyTimeout     time.Duration

	HealthTimeout time.Duration
	ProbeInterval time.Duration

	MaxCreationRetries int

	WorkerMemoryBytes int64
	WorkerCPUShares   int64
	WorkerDiskMB      int64

	// AuthToken is resolved by ResolveAuthToken; empty until then.
	AuthToken     string
	AuthTokenFile string
}

func InitOptions(opts Options) Options {
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	if opts.WorkerImage == "" {
		opts.WorkerImage = envOr("WORKER_IMAGE", "code-interpreter-worker:latest")
	}
	if opts.InternalNetworkName == "" {
		opts.InternalNetworkName = envOr("INTERNAL_NETWORK_NAME", "code-interpreter_workers_isolated_net")
	}
	if opts.MinIdleWorkers <= 0 {
		opts.MinIdleWorkers = 5
	}
	if opts.MaxTotalWorkers <= 0 {
		opts.MaxTotalWorkers = 30
	}
	if opts.WorkerIdleTimeout <= 0 {
		opts.WorkerIdleTimeout = time.Hour
	}
	if opts.RecyclingInterval <= 0 {
		opts.RecyclingInterval = 5 * time.Minute
	}
	if opts.ExecutionTimeout <= 0 {
		opts.ExecutionTimeout = 10 * time.Second
	}
	if opts.ProxyTimeout <= 0 {
		opts.ProxyTimeout = opts.ExecutionTimeout + 20*time.Second
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = 30 * time.Second
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 500 * time.Millisecond
	}
	if opts.MaxCreationRetries <= 0 {
		opts.MaxCreationRetries = 3
	}
	if opts.WorkerMemoryBytes <= 0 {
		opts.WorkerMemoryBytes = 1024 * 1024 * 1024
	}
	if opts.WorkerCPUShares <= 0 {
		opts.WorkerCPUShares = 1024
	}
	if opts.AuthTokenFile == "" {
		opts.AuthTokenFile = "/gateway/auth_token.txt"
	}
	return opts
}

// Validate rejects combinations that would make timeout classification
// ambiguous: the proxy deadline must strictly exceed the in-sandbox
// execution budget so a user-code timeout is reported as 400, never 504.
func (o Options) Validate() error {
	if o.ProxyTimeout <= o.ExecutionTimeout {
		return fmt.Errorf("proxy timeout (%v) must be greater than execution timeout (%v)",
			o.ProxyTimeout, o.ExecutionTimeout)
	}
	if o.MinIdleWorkers > o.MaxTotalWorkers {
		return fmt.Errorf("min idle workers (%d) must not exceed max total workers (%d)",
			o.MinIdleWorkers, o.MaxTotalWorkers)
	}
	return nil
}

// ResolveAuthToken resolves the gateway auth token: environment first, then
// the persisted token file, else a fresh token is generated and persisted.
func (o *Options) ResolveAuthToken() error {
	if token := os.Getenv("AUTH_TOKEN"); token != "" {
		o.AuthToken = token
		return nil
	}
	if data, err := os.ReadFile(o.AuthTokenFile); err == nil {
		if token := strings.TrimSpace(string(data)); token != "" {
			o.AuthToken = token
			return nil
		}
	}
	token := uuid.NewString()
	if err := os.WriteFile(o.AuthTokenFile, []byte(token), 0o600); err != nil {
		return fmt.Errorf("failed to persist generated auth token: %w", err)
	}
	o.AuthToken = token
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
