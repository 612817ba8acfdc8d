package config

import (
	"strings"
	"time"
)

// Option describes a single configuration entry: its viper key, the
// corresponding CLI flag name, the compiled default, and a
// human-readable description shown in --help output.
type Option struct {
	Key         string
	Flag        string
	Default     any
	Description string
}

// NodeOptions defines the configuration entries for node identity,
// membership, segmentation, and the ops HTTP surface. Each entry is
// registered as a viper default and a CLI flag.
var NodeOptions = []Option{
	{Key: keyNodeGrid, Flag: toFlag(keyNodeGrid), Default: "default", Description: "Grid (cluster incarnation) name this node joins"},
	{Key: keyNodeListenAddress, Flag: toFlag(keyNodeListenAddress), Default: ":47500", Description: "Discovery transport listen address"},
	{Key: keyNodeSeedAddresses, Flag: toFlag(keyNodeSeedAddresses), Default: []string{}, Description: "Seed node addresses to join through"},
	{Key: keyNodeDeploymentMode, Flag: toFlag(keyNodeDeploymentMode), Default: "SHARED", Description: "Peer class-loading deployment mode (PRIVATE, ISOLATED, SHARED, CONTINUOUS)"},
	{Key: keyNodeDataCenterID, Flag: toFlag(keyNodeDataCenterID), Default: 0, Description: "Data center id advertised to the cluster"},
	{Key: keyNodeDaemon, Flag: toFlag(keyNodeDaemon), Default: false, Description: "Run as a daemon node (excluded from AllNodes/RemoteNodes)"},
	{Key: keyNodeHistorySize, Flag: toFlag(keyNodeHistorySize), Default: 100, Description: "Number of topology versions retained in discovery history"},
	{Key: keyJoinTokenSeed, Flag: toFlag(keyJoinTokenSeed), Default: "change-me", Description: "HMAC seed for signing cluster join tokens"},

	{Key: keySegmentCheckFrequency, Flag: toFlag(keySegmentCheckFrequency), Default: 10 * time.Second, Description: "How often the segmentation watchdog re-checks resolvers"},
	{Key: keyWaitForSegmentOnStart, Flag: toFlag(keyWaitForSegmentOnStart), Default: false, Description: "Block startup until the segment is valid instead of failing fast"},
	{Key: keySegmentationPolicy, Flag: toFlag(keySegmentationPolicy), Default: "RECONNECT", Description: "Action on segmentation (NOOP, STOP, RESTART_JVM, RECONNECT)"},
	{Key: keyReconnectBackoffMin, Flag: toFlag(keyReconnectBackoffMin), Default: 1 * time.Second, Description: "Minimum reconnect backoff"},
	{Key: keyReconnectBackoffMax, Flag: toFlag(keyReconnectBackoffMax), Default: 30 * time.Second, Description: "Maximum reconnect backoff"},

	{Key: keyOpsAddress, Flag: toFlag(keyOpsAddress), Default: ":8299", Description: "Ops HTTP listen address (health, reflection, metrics)"},
	{Key: keyOpsAllowedOrigins, Flag: toFlag(keyOpsAllowedOrigins), Default: []string{}, Description: "Allowed CORS origins for the ops HTTP surface"},
}

// toFlag converts a viper key like "node.listen_address" into a CLI
// flag like "listen-address" by lower-casing, replacing dots and
// underscores with hyphens, and stripping a leading "node" or "ops"
// section name; other sections are kept, so
// "segmentation.reconnect.backoff_max" becomes
// "segmentation-reconnect-backoff-max".
func toFlag(key string) string {
	flag := strings.ToLower(key)
	flag = strings.ReplaceAll(flag, ".", "-")
	flag = strings.ReplaceAll(flag, "_", "-")
	if idx := strings.Index(flag, "-"); idx >= 0 {
		section := flag[:idx]
		if section == "node" || section == "ops" {
			flag = flag[idx+1:]
		}
	}
	return flag
}
