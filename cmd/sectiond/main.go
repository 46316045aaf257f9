package main

import (
	_ "net/http/pprof"
	"os"

	cmd "github.com/mosaicnetworks/sectiond/cmd/sectiond/commands"
)

func main() {
	rootCmd := cmd.RootCmd

	rootCmd.AddCommand(
		cmd.VersionCmd,
		cmd.NewKeygenCmd(),
		cmd.NewGenesisCmd(),
		cmd.NewRunCmd(),
		cmd.NewInspectCmd(),
		cmd.NewChunkCmd(),
	)

	//Do not print usage when error occurs
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
