// Package core defines the domain types and use-case logic for the
// cluster membership and topology fabric. Infrastructure adapters
// (transport, metrics, deployment repos) implement the interfaces
// declared here; core itself never imports them.
package core

import (
	"github.com/google/uuid"
)

// Order is the monotone per-cluster sequence number assigned to a
// node on first join. It is never reused within one cluster
// incarnation.
type Order int64

// Node is an immutable record of a cluster member as observed at
// join time. Two observations of the same ID within one cluster
// incarnation must carry equal Order and Attributes; callers must
// never mutate a Node after it has been handed to a DiscoCache.
type Node struct {
	ID         uuid.UUID
	Order      Order
	Addresses  []string
	Attributes Attributes
	Daemon     bool
}

// Caches returns the node's advertised CacheAttributes, or nil if the
// node does not advertise any.
func (n Node) Caches() []CacheAttributes {
	return n.Attributes.Caches()
}

// ProductVersion returns the node's advertised product version, or
// the zero Version if none was set.
func (n Node) ProductVersion() Version {
	return n.Attributes.ProductVersion()
}

// Attributes is an immutable, typed view over a node's join-time
// attribute map. Unlike a bare map[string]any, callers read through
// named accessors that return a zero value (never a panic or "key
// missing" error) for an absent key, matching the Design Note in
// spec.md §9 that replaces dynamic attribute lookups with typed
// accessors.
type Attributes struct {
	deploymentMode     DeploymentMode
	peerClassLoading   bool
	dataCenterID       int8
	hasDataCenterID    bool
	preferIPv4         bool
	macs               []string
	libraries          []string
	caches             []CacheAttributes
	productVersion     Version
	userName           string
	osName             string
	osArch             string
	osVersion          string
}

// AttributesOption configures an Attributes value built via NewAttributes.
type AttributesOption func(*Attributes)

// NewAttributes builds an Attributes value from the given options.
// All fields default to their Go zero value when not supplied.
func NewAttributes(opts ...AttributesOption) Attributes {
	var a Attributes
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

func WithDeploymentMode(m DeploymentMode) AttributesOption {
	return func(a *Attributes) { a.deploymentMode = m }
}

func WithPeerClassLoading(enabled bool) AttributesOption {
	return func(a *Attributes) { a.peerClassLoading = enabled }
}

func WithDataCenterID(id int8) AttributesOption {
	return func(a *Attributes) {
		a.dataCenterID = id
		a.hasDataCenterID = true
	}
}

func WithPreferIPv4(prefer bool) AttributesOption {
	return func(a *Attributes) { a.preferIPv4 = prefer }
}

func WithMACs(macs []string) AttributesOption {
	return func(a *Attributes) { a.macs = macs }
}

func WithLibraries(libs []string) AttributesOption {
	return func(a *Attributes) { a.libraries = libs }
}

func WithCacheAttributes(caches []CacheAttributes) AttributesOption {
	return func(a *Attributes) { a.caches = caches }
}

func WithProductVersion(v Version) AttributesOption {
	return func(a *Attributes) { a.productVersion = v }
}

func WithUserName(name string) AttributesOption {
	return func(a *Attributes) { a.userName = name }
}

func WithOS(name, arch, version string) AttributesOption {
	return func(a *Attributes) {
		a.osName = name
		a.osArch = arch
		a.osVersion = version
	}
}

func (a Attributes) DeploymentMode() DeploymentMode { return a.deploymentMode }
func (a Attributes) PeerClassLoading() bool         { return a.peerClassLoading }

// DataCenterID returns the node's data-center id and whether one was
// ever set. A daemon node is permitted to omit it entirely.
func (a Attributes) DataCenterID() (int8, bool) { return a.dataCenterID, a.hasDataCenterID }
func (a Attributes) PreferIPv4() bool           { return a.preferIPv4 }
func (a Attributes) MACs() []string             { return a.macs }
func (a Attributes) Libraries() []string        { return a.libraries }
func (a Attributes) Caches() []CacheAttributes  { return a.caches }
func (a Attributes) ProductVersion() Version    { return a.productVersion }
func (a Attributes) UserName() string           { return a.userName }
func (a Attributes) OS() (name, arch, version string) {
	return a.osName, a.osArch, a.osVersion
}

// DeploymentMode controls how peer-class-loaded code is scoped across
// the cluster.
type DeploymentMode int

const (
	DeploymentModePrivate DeploymentMode = iota
	DeploymentModeIsolated
	DeploymentModeShared
	DeploymentModeContinuous
)

// ParseDeploymentMode maps a config string (PRIVATE, ISOLATED, SHARED,
// CONTINUOUS) to a DeploymentMode, defaulting to SHARED for anything
// else so a typo in configuration degrades to the most permissive
// mode rather than the most restrictive.
func ParseDeploymentMode(s string) DeploymentMode {
	switch s {
	case "PRIVATE":
		return DeploymentModePrivate
	case "ISOLATED":
		return DeploymentModeIsolated
	case "CONTINUOUS":
		return DeploymentModeContinuous
	default:
		return DeploymentModeShared
	}
}

func (m DeploymentMode) String() string {
	switch m {
	case DeploymentModePrivate:
		return "PRIVATE"
	case DeploymentModeIsolated:
		return "ISOLATED"
	case DeploymentModeShared:
		return "SHARED"
	case DeploymentModeContinuous:
		return "CONTINUOUS"
	default:
		return "UNKNOWN"
	}
}

// CacheAttributes describes one node's participation in one named
// cache (or the default cache, when Name is nil). AffinityNode and
// NearEnabled are independent: a node may hold near-cache entries
// without participating in affinity, or vice versa.
type CacheAttributes struct {
	Name         *string
	AffinityNode bool
	NearEnabled  bool
}

// Key returns the CacheKey this CacheAttributes value is indexed
// under in a DiscoCache.
func (c CacheAttributes) Key() CacheKey {
	if c.Name == nil {
		return DefaultCacheKey()
	}
	return NamedCacheKey(*c.Name)
}
