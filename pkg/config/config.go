// Package config provides a reusable loader for chiral-node configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.2.0
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/chiral-network/chiral-node/pkg/reputation"
	"github.com/chiral-network/chiral-node/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.2.0"

// Config is the unified configuration for a chiral-node process.
type Config struct {
	Identity struct {
		KeyPath string `mapstructure:"key_path" json:"key_path"`
	} `mapstructure:"identity" json:"identity"`

	ChunkStore struct {
		Root      string `mapstructure:"root" json:"root"`
		ChunkSize int64  `mapstructure:"chunk_size" json:"chunk_size"`
	} `mapstructure:"chunk_store" json:"chunk_store"`

	Manifests struct {
		Root string `mapstructure:"root" json:"root"`
	} `mapstructure:"manifests" json:"manifests"`

	DHT struct {
		ListenAddrs    []string `mapstructure:"listen_addrs" json:"listen_addrs"`
		BootstrapAddrs []string `mapstructure:"bootstrap_addrs" json:"bootstrap_addrs"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		AsBootstrap    bool     `mapstructure:"as_bootstrap" json:"as_bootstrap"`
	} `mapstructure:"dht" json:"dht"`

	Market struct {
		HTTPAddr        string `mapstructure:"http_addr" json:"http_addr"`
		StorageRoot     string `mapstructure:"storage_root" json:"storage_root"`
		StorageCapacity uint64 `mapstructure:"storage_capacity" json:"storage_capacity"`
	} `mapstructure:"market" json:"market"`

	Reputation reputation.Config `mapstructure:"reputation" json:"reputation"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// defaults seeds viper with every value DefaultConfig would otherwise need
// to backfill after an Unmarshal that only partially populates the struct.
func defaults() {
	rep := reputation.DefaultConfig()
	viper.SetDefault("identity.key_path", "identity.key")
	viper.SetDefault("chunk_store.root", "data/chunks")
	viper.SetDefault("chunk_store.chunk_size", 256*1024)
	viper.SetDefault("manifests.root", "data/manifests")
	viper.SetDefault("dht.listen_addrs", []string{"/ip4/0.0.0.0/tcp/4001"})
	viper.SetDefault("dht.discovery_tag", "chiral-mdns")
	viper.SetDefault("dht.as_bootstrap", false)
	viper.SetDefault("market.http_addr", ":8080")
	viper.SetDefault("market.storage_root", "data/storage")
	viper.SetDefault("market.storage_capacity", 10*1024*1024*1024)
	viper.SetDefault("reputation.confirmation_threshold", rep.ConfirmationThreshold)
	viper.SetDefault("reputation.confirmation_timeout", rep.ConfirmationTimeout)
	viper.SetDefault("reputation.maturity_threshold", rep.MaturityThreshold)
	viper.SetDefault("reputation.decay_half_life_days", rep.DecayHalfLifeDays)
	viper.SetDefault("reputation.retention_period", rep.RetentionPeriod)
	viper.SetDefault("reputation.max_verdict_size", rep.MaxVerdictSize)
	viper.SetDefault("reputation.cache_ttl", rep.CacheTTL)
	viper.SetDefault("reputation.blacklist_mode", string(rep.BlacklistMode))
	viper.SetDefault("reputation.blacklist_score_threshold", rep.BlacklistScoreThreshold)
	viper.SetDefault("reputation.blacklist_bad_verdicts_threshold", rep.BlacklistBadVerdicts)
	viper.SetDefault("reputation.blacklist_retention", rep.BlacklistRetention)
	viper.SetDefault("reputation.payment_deadline_default", rep.PaymentDeadlineDefault)
	viper.SetDefault("reputation.payment_grace_period", rep.PaymentGracePeriod)
	viper.SetDefault("reputation.min_balance_multiplier", rep.MinBalanceMultiplier)
	viper.SetDefault("reputation.blacklist_auto_enabled", rep.BlacklistAutoEnabled)
}

// Load reads configuration files and merges any environment-specific
// overrides. The resulting configuration is stored in AppConfig and
// returned. A missing config file is not an error: built-in defaults carry
// the process, matching a node that has never been configured by hand.
func Load(env string) (*Config, error) {
	_ = godotenv.Load()

	defaults()

	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
			}
		}
	}

	viper.SetEnvPrefix("CHIRAL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the CHIRAL_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("CHIRAL_ENV", ""))
}

// QueryTimeout is a convenience accessor mirroring the DHT overlay's fixed
// query timeout, exposed here so callers configuring client timeouts for
// storage-broker HTTP calls can stay consistent with it.
const QueryTimeout = 30 * time.Second
