package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, and applies CDP_* environment variable overrides. An
// empty path skips the file and uses defaults plus overrides. The returned
// Config has not been validated; call Validate after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites the corresponding Config fields when a
// CDP_* variable is set. This lets operators inject secrets at deploy time
// without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.LogLevel, "CDP_LOG_LEVEL")

	setStr(&cfg.Postgres.DSN, "CDP_POSTGRES_DSN")
	setInt(&cfg.Postgres.MaxOpenConns, "CDP_POSTGRES_MAX_OPEN_CONNS")
	setInt(&cfg.Postgres.MaxIdleConns, "CDP_POSTGRES_MAX_IDLE_CONNS")
	setStr(&cfg.Postgres.MigrationsDir, "CDP_MIGRATIONS_DIR")

	setStr(&cfg.NATS.URL, "CDP_NATS_URL")

	setStr(&cfg.Server.HTTPAddr, "CDP_HTTP_ADDR")
	setStr(&cfg.Server.MetricsAddr, "CDP_METRICS_ADDR")

	setInt(&cfg.Engine.PersistChanSize, "CDP_PERSIST_CHAN_SIZE")
	setInt(&cfg.Engine.PublishChanSize, "CDP_PUBLISH_CHAN_SIZE")
	setInt(&cfg.Engine.PriceChanSize, "CDP_PRICE_CHAN_SIZE")
	setInt(&cfg.Engine.PersistBatchSize, "CDP_PERSIST_BATCH_SIZE")
	setInt(&cfg.Engine.PersistFlushMs, "CDP_PERSIST_FLUSH_MS")
	setInt64(&cfg.Engine.SnapshotInterval, "CDP_SNAPSHOT_INTERVAL")
	setInt(&cfg.Engine.SnapshotKeep, "CDP_SNAPSHOT_KEEP")
	setStr(&cfg.Engine.AdminRoot, "CDP_ADMIN_ROOT")

	setInt64(&cfg.Auction.BurnRatio, "CDP_AUCTION_BURN_RATIO")
	setInt64(&cfg.Auction.InitiatorBonus, "CDP_AUCTION_INITIATOR_BONUS")
	setStr(&cfg.Auction.FeeVault, "CDP_AUCTION_FEE_VAULT")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
