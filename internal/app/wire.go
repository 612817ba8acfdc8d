package app

import "github.com/google/wire"

// ProviderSet is the Wire provider set for the application layer.
var ProviderSet = wire.NewSet(
	NewTopologyUseCase,
	NewDeployUseCase,
)
