// Code generated by Wire would normally live here. No wire_gen.go
// ships in this module's retrieval corpus, so this injector body is
// hand-maintained: it must be kept in sync with wire.go's wire.Build
// call by hand whenever the provider graph changes.
//go:build !wireinject

package main

import (
	"github.com/spf13/cobra"

	"github.com/otterscale/gridnode/internal/config"
)

func wireCmd() (*cobra.Command, error) {
	conf, err := config.New()
	if err != nil {
		return nil, err
	}

	return newCmd(conf)
}
