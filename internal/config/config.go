// Package config provides the file-based configuration schema for the
// records assistant. Everything is defined in one YAML file: tenants,
// identities, API keys, policy rules, and the agent settings.
package config

import (
	"github.com/spf13/viper"
)

// Config is the top-level configuration.
type Config struct {
	// Server configures the HTTP server listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Tenants defines the school partitions. Each tenant gets its own
	// SQLite database file; there is no shared storage between tenants.
	Tenants []TenantConfig `yaml:"tenants" mapstructure:"tenants" validate:"required,min=1,dive"`

	// Auth configures file-based identities and API keys.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Policy configures the rule table and scope evaluation.
	Policy PolicyConfig `yaml:"policy" mapstructure:"policy"`

	// Agent configures the reasoning model and the turn loop.
	Agent AgentConfig `yaml:"agent" mapstructure:"agent"`

	// Audit configures the decision trail persistence.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// RateLimit configures optional request rate limiting.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// DevMode enables development features (verbose logging, etc).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// AllowedOrigins lists browser origins permitted to call the API.
	// Empty means requests with an Origin header are blocked.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`

	// TLSCertFile and TLSKeyFile enable TLS when both are set.
	TLSCertFile string `yaml:"tls_cert_file" mapstructure:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file" mapstructure:"tls_key_file"`
}

// TenantConfig defines one school partition.
type TenantConfig struct {
	// ID is the tenant identifier used in claims and audit records.
	ID string `yaml:"id" mapstructure:"id" validate:"required"`

	// DBPath is the SQLite database file for this tenant's records.
	DBPath string `yaml:"db_path" mapstructure:"db_path" validate:"required"`
}

// AuthConfig configures file-based authentication.
// All identities and API keys are defined in the configuration file.
type AuthConfig struct {
	// Identities defines the known callers.
	Identities []IdentityConfig `yaml:"identities" mapstructure:"identities" validate:"omitempty,dive"`

	// APIKeys defines the API keys that map to identities.
	APIKeys []APIKeyConfig `yaml:"api_keys" mapstructure:"api_keys" validate:"omitempty,dive"`
}

// IdentityConfig defines a file-based identity.
type IdentityConfig struct {
	// ID is the unique identifier for this identity.
	ID string `yaml:"id" mapstructure:"id" validate:"required"`

	// Name is the human-readable name for this identity.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Role is the identity's role: student, teacher, or admin.
	Role string `yaml:"role" mapstructure:"role" validate:"required,oneof=student teacher admin"`

	// TenantID is the school this identity belongs to.
	// Must match a tenant in Tenants.
	TenantID string `yaml:"tenant_id" mapstructure:"tenant_id" validate:"required"`

	// StudentRef is the student record this identity owns. Required for
	// the student role, forbidden otherwise.
	StudentRef string `yaml:"student_ref" mapstructure:"student_ref"`

	// TeacherRef is the teacher record this identity owns. Required for
	// the teacher role, forbidden otherwise.
	TeacherRef string `yaml:"teacher_ref" mapstructure:"teacher_ref"`
}

// APIKeyConfig defines an API key that authenticates as an identity.
type APIKeyConfig struct {
	// KeyHash is the hash of the API key: "sha256:"-prefixed hex, bare
	// SHA-256 hex, or an Argon2id PHC string.
	// Generate with: chalkline hash-key
	KeyHash string `yaml:"key_hash" mapstructure:"key_hash" validate:"required"`

	// IdentityID references the identity this key authenticates as.
	// Must match an ID in Auth.Identities.
	IdentityID string `yaml:"identity_id" mapstructure:"identity_id" validate:"required"`
}

// PolicyConfig configures the rule table and scope evaluation.
type PolicyConfig struct {
	// ScopeExpression is the CEL expression deciding whether a target
	// class is within a teacher's assignments. Defaults to
	// "target.class_id in teacher.class_ids".
	ScopeExpression string `yaml:"scope_expression" mapstructure:"scope_expression"`

	// CacheSize is the maximum number of cached policy decisions.
	// Defaults to 1000.
	CacheSize int `yaml:"cache_size" mapstructure:"cache_size" validate:"omitempty,min=1"`

	// Rules optionally overrides the shipped rule table. When empty the
	// built-in defaults apply: students own-only, teachers scoped,
	// admins tenant-wide.
	Rules []RuleConfig `yaml:"rules" mapstructure:"rules" validate:"omitempty,dive"`
}

// RuleConfig defines one (role, operation) rule.
type RuleConfig struct {
	// Role the rule applies to: student, teacher, or admin.
	Role string `yaml:"role" mapstructure:"role" validate:"required,oneof=student teacher admin"`

	// Operation is the tool operation name from the catalog.
	Operation string `yaml:"operation" mapstructure:"operation" validate:"required"`

	// Effect is the rule outcome.
	Effect string `yaml:"effect" mapstructure:"effect" validate:"required,oneof=allow_all allow_own_only allow_scoped deny"`
}

// AgentConfig configures the reasoning model and the turn loop.
type AgentConfig struct {
	// Model is the model name passed to the OpenAI-compatible endpoint.
	// Defaults to "gpt-4o-mini".
	Model string `yaml:"model" mapstructure:"model"`

	// BaseURL overrides the API endpoint for OpenAI-compatible servers.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`

	// APIKeyEnv names the environment variable holding the model API
	// key. Defaults to "OPENAI_API_KEY". The key itself never lives in
	// the config file.
	APIKeyEnv string `yaml:"api_key_env" mapstructure:"api_key_env"`

	// Temperature is the sampling temperature. Defaults to 0.
	Temperature float64 `yaml:"temperature" mapstructure:"temperature" validate:"omitempty,min=0,max=2"`

	// MaxRounds is the tool-dispatching round budget per turn.
	// Defaults to 8.
	MaxRounds int `yaml:"max_rounds" mapstructure:"max_rounds" validate:"omitempty,min=1"`

	// ToolTimeout is the per-call deadline (e.g., "10s").
	ToolTimeout string `yaml:"tool_timeout" mapstructure:"tool_timeout" validate:"omitempty"`

	// TurnTimeout is the whole-turn deadline (e.g., "120s").
	TurnTimeout string `yaml:"turn_timeout" mapstructure:"turn_timeout" validate:"omitempty"`

	// MaxResultBytes caps one tool result in the transcript.
	// Defaults to 16384.
	MaxResultBytes int `yaml:"max_result_bytes" mapstructure:"max_result_bytes" validate:"omitempty,min=256"`

	// WeakSubjectMargin is how many percentage points below their own
	// average a subject must fall to be flagged weak. Defaults to 10.
	WeakSubjectMargin float64 `yaml:"weak_subject_margin" mapstructure:"weak_subject_margin" validate:"omitempty,min=0"`
}

// AuditConfig configures the decision trail.
type AuditConfig struct {
	// Dir is the directory where decision files are stored.
	// Defaults to "./audit".
	Dir string `yaml:"dir" mapstructure:"dir"`

	// RetentionDays is the number of days to keep decision files.
	// Defaults to 30.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"omitempty,min=1"`

	// MaxFileSizeMB is the maximum size per decision file in megabytes
	// before rotation. Defaults to 100.
	MaxFileSizeMB int `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb" validate:"omitempty,min=1"`

	// ChannelSize is the buffer size for the decision channel.
	// Larger values handle burst traffic better but use more memory.
	// Defaults to 1000 if not specified or 0.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of records to batch before writing.
	// Larger batches are more efficient but increase latency.
	// Defaults to 100 if not specified or 0.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is how often to flush pending records (e.g., "1s", "500ms").
	// Shorter intervals reduce data loss risk but increase I/O.
	// Defaults to "1s" if not specified.
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty"`

	// SendTimeout is how long to block when the channel is full (e.g., "100ms", "0").
	// "0" or empty = drop immediately (no blocking).
	// Defaults to "100ms" if not specified.
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty"`
}

// RateLimitConfig configures request rate limiting.
type RateLimitConfig struct {
	// Enabled turns rate limiting on or off. Defaults to on unless
	// explicitly disabled.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// AddrRate is the maximum requests per minute per client address,
	// checked before authentication. Defaults to 60.
	AddrRate int `yaml:"addr_rate" mapstructure:"addr_rate" validate:"omitempty,min=1"`

	// SubjectRate is the maximum requests per minute per authenticated
	// caller. Defaults to 30; each request may spend several model calls.
	SubjectRate int `yaml:"subject_rate" mapstructure:"subject_rate" validate:"omitempty,min=1"`

	// CleanupInterval is how often to drop expired limiter entries
	// (e.g., "5m"). Defaults to "5m".
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty"`

	// MaxTTL is the maximum age of a limiter entry before removal
	// (e.g., "1h"). Defaults to "1h".
	MaxTTL string `yaml:"max_ttl" mapstructure:"max_ttl" validate:"omitempty"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Server defaults. Bind to localhost only; users who need network
	// access must explicitly set http_addr.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	// Policy defaults
	if c.Policy.ScopeExpression == "" {
		c.Policy.ScopeExpression = "target.class_id in teacher.class_ids"
	}
	if c.Policy.CacheSize == 0 {
		c.Policy.CacheSize = 1000
	}

	// Agent defaults
	if c.Agent.Model == "" {
		c.Agent.Model = "gpt-4o-mini"
	}
	if c.Agent.APIKeyEnv == "" {
		c.Agent.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Agent.MaxRounds == 0 {
		c.Agent.MaxRounds = 8
	}
	if c.Agent.ToolTimeout == "" {
		c.Agent.ToolTimeout = "10s"
	}
	if c.Agent.TurnTimeout == "" {
		c.Agent.TurnTimeout = "120s"
	}
	if c.Agent.MaxResultBytes == 0 {
		c.Agent.MaxResultBytes = 16384
	}
	if c.Agent.WeakSubjectMargin == 0 {
		c.Agent.WeakSubjectMargin = 10
	}

	// Audit defaults
	if c.Audit.Dir == "" {
		c.Audit.Dir = "./audit"
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 30
	}
	if c.Audit.MaxFileSizeMB == 0 {
		c.Audit.MaxFileSizeMB = 100
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
	if c.Audit.SendTimeout == "" {
		c.Audit.SendTimeout = "100ms"
	}

	// Rate limit defaults. Enabled by default; only apply when the user
	// has not explicitly set it in YAML/env.
	if !viper.IsSet("rate_limit.enabled") {
		c.RateLimit.Enabled = true
	}
	if c.RateLimit.AddrRate == 0 {
		c.RateLimit.AddrRate = 60
	}
	if c.RateLimit.SubjectRate == 0 {
		c.RateLimit.SubjectRate = 30
	}
	if c.RateLimit.CleanupInterval == "" {
		c.RateLimit.CleanupInterval = "5m"
	}
	if c.RateLimit.MaxTTL == "" {
		c.RateLimit.MaxTTL = "1h"
	}
}

// SetDevDefaults applies permissive defaults for development mode.
// This allows running the server with minimal config (just tenants).
// These defaults are applied BEFORE validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	if c.Server.LogLevel == "info" && !viper.IsSet("server.log_level") {
		c.Server.LogLevel = "debug"
	}

	// Provide a default dev identity and key if none configured.
	// SHA256 of "dev-api-key".
	if len(c.Auth.Identities) == 0 && len(c.Tenants) > 0 {
		c.Auth.Identities = []IdentityConfig{
			{
				ID:       "dev-admin",
				Name:     "Development Admin",
				Role:     "admin",
				TenantID: c.Tenants[0].ID,
			},
		}
	}
	if len(c.Auth.APIKeys) == 0 && len(c.Auth.Identities) > 0 {
		c.Auth.APIKeys = []APIKeyConfig{
			{
				KeyHash:    "sha256:6e1e4e1b8f8b36d08901cdb51b97841dfe20f5efd2fd2fd00768971408c46274",
				IdentityID: c.Auth.Identities[0].ID,
			},
		}
	}
}
