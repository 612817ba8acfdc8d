// Package config provides unified configuration loading from files,
// environment variables, and CLI flags using viper and pflag.
//
// Resolution order (highest wins):
//  1. CLI flags
//  2. Environment variables (prefix GRIDNODE_)
//  3. Config file (config.yaml in . or /etc/gridnode/)
//  4. Compiled defaults
package config

// Viper keys for node identity and membership configuration.
const (
	keyNodeGrid              = "node.grid"
	keyNodeListenAddress     = "node.listen_address"
	keyNodeSeedAddresses     = "node.seed_addresses"
	keyNodeDeploymentMode    = "node.deployment_mode"
	keyNodeDataCenterID      = "node.data_center_id"
	keyNodeDaemon            = "node.daemon"
	keyNodeHistorySize       = "node.history_size"
	keyJoinTokenSeed         = "node.join_token_seed"
)

// Viper keys for segmentation and reconnect behavior.
const (
	keySegmentCheckFrequency = "segmentation.check_frequency"
	keyWaitForSegmentOnStart = "segmentation.wait_on_start"
	keySegmentationPolicy    = "segmentation.policy"
	keyReconnectBackoffMin   = "segmentation.reconnect.backoff_min"
	keyReconnectBackoffMax   = "segmentation.reconnect.backoff_max"
)

// Viper keys for the ops HTTP surface (health, reflection, metrics).
const (
	keyOpsAddress        = "ops.address"
	keyOpsAllowedOrigins = "ops.allowed_origins"
)
