package main

import (
	"github.com/spf13/cobra"

	"github.com/otterscale/gridnode/internal/config"
	"github.com/otterscale/gridnode/internal/node"
)

// newCmd is a Wire provider that constructs the root Cobra command and
// registers the "node run" subcommand. conf is shared between the
// root command's persistent flags and the subcommand that eventually
// builds the Node.
func newCmd(conf *config.Config) (*cobra.Command, error) {
	root := &cobra.Command{
		Use:           "gridnode",
		Short:         "gridnode: a cluster membership and topology fabric node",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	nodeCmd := &cobra.Command{
		Use:   "node",
		Short: "Node lifecycle commands",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Join the grid and serve discovery, deployment, and ops traffic until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := node.New(conf)
			if err != nil {
				return err
			}
			return n.Run(cmd.Context())
		},
	}
	if err := conf.BindFlags(runCmd.Flags(), config.NodeOptions); err != nil {
		return nil, err
	}

	nodeCmd.AddCommand(runCmd)
	root.AddCommand(nodeCmd)

	return root, nil
}
