package commands

import (
	"github.com/spf13/cobra"

	"github.com/mosaicnetworks/sectiond/src/config"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for sectiond
var RootCmd = &cobra.Command{
	Use:              "sectiond",
	Short:            "sectioned network node",
	TraverseChildren: true,
}
