package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mosaicnetworks/sectiond/src/config"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/sectiond"
)

var (
	genesisPeersDir  string
	genesisOutDir    string
	genesisAge       uint8
	genesisElderSize int
)

// NewGenesisCmd produces a command that deals the genesis key between the
// founders listed in a peers.json file.
func NewGenesisCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "genesis",
		Short: "Create the genesis section of a multi-node network",
		Long: `Create the genesis section of a multi-node network.

The founders are read from peers.json in --peers, each with its name and
address. A directory is written in --out for every founder, named after the
founder's name, holding the genesis.dat file to copy into its data
directory. --out also receives the genesis_key and peers.json files that
joining nodes need.`,
		RunE: genesis,
	}

	AddGenesisFlags(cmd)

	return cmd
}

//AddGenesisFlags adds flags to the genesis command
func AddGenesisFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&genesisPeersDir, "peers", _config.DataDir, "Directory containing the founders' peers.json")
	cmd.Flags().StringVar(&genesisOutDir, "out", filepath.Join(_config.DataDir, "genesis"), "Output directory")
	cmd.Flags().Uint8Var(&genesisAge, "age", config.DefaultFirstSectionMaxAge, "Age of the founders")
	cmd.Flags().IntVar(&genesisElderSize, "elder-count", config.DefaultElderCount, "Number of elders per section")
}

func genesis(cmd *cobra.Command, args []string) error {
	founders, err := peers.NewJSONPeerSet(genesisPeersDir).Peers()
	if err != nil {
		return fmt.Errorf("Reading founders: %s", err)
	}

	res, err := sectiond.MakeGenesis(founders, genesisAge, genesisElderSize)
	if err != nil {
		return err
	}

	for name, g := range res {
		dir := filepath.Join(genesisOutDir, name)
		if err := sectiond.WriteGenesis(dir, g); err != nil {
			return fmt.Errorf("Writing genesis of %s: %s", name, err)
		}
		role := "adult"
		if g.Share != nil {
			role = "elder"
		}
		fmt.Printf("%s (%s): %s\n", name, role, dir)
	}

	// every founder holds the same SAP
	genesisKey := res[founders[0].Name.Hex()].SAP.SectionKey()
	if err := sectiond.WriteGenesisKey(filepath.Join(genesisOutDir, config.DefaultGenesisKeyFile), genesisKey); err != nil {
		return err
	}

	if err := peers.NewJSONPeerSet(genesisOutDir).Write(founders); err != nil {
		return err
	}

	fmt.Printf("Genesis key: %s\n", genesisKey)

	return nil
}
