package config

import "time"

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"                    envDefault:"localhost"`
	Port     int    `env:"PORT"                    envDefault:"5432"`
	User     string `env:"USER"                    envDefault:"scanapi"`
	Password string `env:"PASSWORD"                envDefault:"scanapi"`
	Name     string `env:"NAME"                    envDefault:"scanapi"`
	SSLMode  string `env:"SSL_MODE"                envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// ConnectionLimit caps open connections in the pool.
	ConnectionLimit int `env:"CONNECTION_LIMIT" envDefault:"10"`
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// Sanitize clamps the pool size.
func (d *DBConfig) Sanitize() {
	if d.ConnectionLimit <= 0 {
		d.ConnectionLimit = 10
	}
	if d.SSLMode == "" {
		d.SSLMode = "disable"
	}
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	// Enabled turns on idempotency keys and the console log cache.
	Enabled            bool     `env:"ENABLED"              envDefault:"false"`
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
}

// CacheConfig contains cache TTLs (Redis-based).
type CacheConfig struct {
	// LogTTL is how long the console log of a finished scan stays cached.
	LogTTL time.Duration `env:"CACHE_LOG_TTL" envDefault:"10m"`
	// IdempotencyTTL is how long an Idempotency-Key stays bound to its job.
	IdempotencyTTL time.Duration `env:"CACHE_IDEMPOTENCY_TTL" envDefault:"24h"`
}

// Sanitize restores defaults for non-positive TTLs.
func (c *CacheConfig) Sanitize() {
	if c.LogTTL <= 0 {
		c.LogTTL = 10 * time.Minute
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = 24 * time.Hour
	}
}
