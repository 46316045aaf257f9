package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mosaicnetworks/sectiond/src/crypto/keys"
)

var (
	keyFile string
)

// NewKeygenCmd produces a KeygenCmd which creates a node identity
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create a new node identity",
		RunE:  keygen,
	}

	AddKeygenFlags(cmd)

	return cmd
}

//AddKeygenFlags adds flags to the keygen command
func AddKeygenFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&keyFile, "key", _config.Keyfile(), "File where the identity will be written")
}

func keygen(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(keyFile); err == nil {
		return fmt.Errorf("A key already lives in: %s", keyFile)
	}

	kp, err := keys.GenerateKeypair()
	if err != nil {
		return fmt.Errorf("Error generating keypair: %s", err)
	}

	if err := keys.NewSimpleKeyfile(keyFile).WriteKey(kp); err != nil {
		return fmt.Errorf("Writing identity: %s", err)
	}

	fmt.Printf("Your identity has been saved to: %s\n", keyFile)
	fmt.Printf("Name: %s\n", kp.Name().Hex())
	fmt.Printf("Public key: %s\n", kp.PublicKey())

	return nil
}
