package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config wraps a viper instance and provides typed accessors for every
// configuration key. Create one via New().
type Config struct {
	v *viper.Viper
}

// New initialises a Config by loading values from environment
// variables, the config file, and compiled defaults (in that priority
// order; CLI flags, bound later via BindFlags, take highest priority).
func New() (*Config, error) {
	v := viper.New()

	for _, o := range NodeOptions {
		v.SetDefault(o.Key, o.Default)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/gridnode/")

	if err := v.ReadInConfig(); err != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !(errors.As(err, &notFoundErr) || errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables are prefixed with GRIDNODE_ and use
	// underscores in place of dots (e.g. GRIDNODE_NODE_GRID).
	v.SetEnvPrefix("GRIDNODE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return &Config{v: v}, nil
}

// BindFlags registers CLI flags for the given option slice and binds
// them to the underlying viper keys so that flag values override file
// and environment sources.
func (c *Config) BindFlags(fs *pflag.FlagSet, options []Option) error {
	for _, o := range options {
		switch v := o.Default.(type) {
		case string:
			fs.String(o.Flag, v, o.Description)
		case int:
			fs.Int(o.Flag, v, o.Description)
		case bool:
			fs.Bool(o.Flag, v, o.Description)
		case []string:
			fs.StringSlice(o.Flag, v, o.Description)
		case time.Duration:
			fs.Duration(o.Flag, v, o.Description)
		default:
			return fmt.Errorf("unsupported flag type for key: %s", o.Key)
		}

		if err := c.v.BindPFlag(o.Key, fs.Lookup(o.Flag)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", o.Flag, err)
		}
	}

	return nil
}

// Grid returns the name of the cluster incarnation this node joins.
func (c *Config) Grid() string { return c.v.GetString(keyNodeGrid) }

// ListenAddress returns the discovery transport's listen address.
func (c *Config) ListenAddress() string { return c.v.GetString(keyNodeListenAddress) }

// SeedAddresses returns the seed node addresses to join through.
func (c *Config) SeedAddresses() []string { return c.v.GetStringSlice(keyNodeSeedAddresses) }

// DeploymentMode returns the configured peer-class-loading deployment
// mode as a string (PRIVATE, ISOLATED, SHARED, CONTINUOUS).
func (c *Config) DeploymentMode() string { return c.v.GetString(keyNodeDeploymentMode) }

// DataCenterID returns the configured data-center id.
func (c *Config) DataCenterID() int { return c.v.GetInt(keyNodeDataCenterID) }

// Daemon reports whether this node runs in daemon mode.
func (c *Config) Daemon() bool { return c.v.GetBool(keyNodeDaemon) }

// HistorySize returns the number of topology versions to retain.
func (c *Config) HistorySize() int { return c.v.GetInt(keyNodeHistorySize) }

// JoinTokenSeed returns the HMAC seed used to sign join tokens.
func (c *Config) JoinTokenSeed() string { return c.v.GetString(keyJoinTokenSeed) }

// SegmentCheckFrequency returns how often the segmentation watchdog
// re-checks its resolvers.
func (c *Config) SegmentCheckFrequency() time.Duration {
	return c.v.GetDuration(keySegmentCheckFrequency)
}

// WaitForSegmentOnStart reports whether Start should block until the
// segment is valid rather than failing fast.
func (c *Config) WaitForSegmentOnStart() bool { return c.v.GetBool(keyWaitForSegmentOnStart) }

// SegmentationPolicy returns the configured segmentation policy name.
func (c *Config) SegmentationPolicy() string { return c.v.GetString(keySegmentationPolicy) }

// ReconnectBackoffMin returns the minimum reconnect backoff.
func (c *Config) ReconnectBackoffMin() time.Duration {
	return c.v.GetDuration(keyReconnectBackoffMin)
}

// ReconnectBackoffMax returns the maximum reconnect backoff.
func (c *Config) ReconnectBackoffMax() time.Duration {
	return c.v.GetDuration(keyReconnectBackoffMax)
}

// OpsAddress returns the ops HTTP surface's listen address.
func (c *Config) OpsAddress() string { return c.v.GetString(keyOpsAddress) }

// OpsAllowedOrigins returns the allowed CORS origins for the ops
// HTTP surface.
func (c *Config) OpsAllowedOrigins() []string { return c.v.GetStringSlice(keyOpsAllowedOrigins) }
