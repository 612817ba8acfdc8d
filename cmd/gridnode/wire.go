//go:build wireinject

package main

import (
	"github.com/google/wire"
	"github.com/spf13/cobra"

	"github.com/otterscale/gridnode/internal/config"
)

func wireCmd() (*cobra.Command, error) {
	panic(wire.Build(
		newCmd,
		config.ProviderSet,
	))
}
