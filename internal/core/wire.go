package core

import (
	"github.com/google/wire"
)

// ProviderSet is the Wire provider set for the domain layer: the
// Discovery Manager and its collaborators. Infrastructure providers
// (transport implementations, class sources, config-derived policy
// selection) live in their own packages and are wired in at cmd/
// level.
var ProviderSet = wire.NewSet(
	NewDiscoveryManager,
	NewDeploymentStore,
	NewJoinTokenIssuer,
)
