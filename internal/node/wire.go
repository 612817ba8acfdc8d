package node

import "github.com/google/wire"

// ProviderSet is the Wire provider set for the node runtime.
var ProviderSet = wire.NewSet(New)
