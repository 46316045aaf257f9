package commands

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/spf13/cobra"

	"github.com/mosaicnetworks/sectiond/src/client"
	"github.com/mosaicnetworks/sectiond/src/crypto/keys"
	"github.com/mosaicnetworks/sectiond/src/net"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/sectiond"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

var (
	chunkDataDir string
	chunkListen  string
)

// NewChunkCmd produces the commands that store and fetch chunks. The network
// is reached through the genesis_key and peers.json files of --datadir.
func NewChunkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chunk",
		Short: "Store and fetch chunks",
	}

	cmd.PersistentFlags().StringVar(&chunkDataDir, "datadir", _config.DataDir, "Directory holding genesis_key and peers.json")
	cmd.PersistentFlags().StringVarP(&chunkListen, "listen", "l", "127.0.0.1:0", "Listen IP:Port for responses")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "put [file]",
			Short: "Store the content of a file, or stdin, and print its name",
			Args:  cobra.MaximumNArgs(1),
			RunE:  putChunk,
		},
		&cobra.Command{
			Use:   "get [name]",
			Short: "Write the chunk stored under name to stdout",
			Args:  cobra.ExactArgs(1),
			RunE:  getChunk,
		},
	)

	return cmd
}

func newClient(ctx context.Context) (*client.Client, error) {
	_config.SetDataDir(chunkDataDir)

	genesisKey, err := sectiond.ReadGenesisKey(_config.GenesisKeyFile())
	if err != nil {
		return nil, err
	}
	contacts, err := peers.NewJSONPeerSet(_config.DataDir).Peers()
	if err != nil {
		return nil, err
	}

	trans, err := net.NewTCPTransport(net.TCPConfig{
		BindAddr:      chunkListen,
		AdvertiseAddr: "",
		MaxPool:       1,
		Timeout:       _config.TCPTimeout,
		JoinTimeout:   _config.JoinTimeout,
	}, _config.Logger().WithField("prefix", "net"))
	if err != nil {
		return nil, err
	}

	signer, err := keys.GenerateClientKey()
	if err != nil {
		trans.Close()
		return nil, err
	}

	c, err := client.NewClient(_config, signer, genesisKey, trans)
	if err != nil {
		trans.Close()
		return nil, err
	}

	if err := c.Bootstrap(ctx, contacts); err != nil {
		c.Close()
		return nil, fmt.Errorf("Bootstrapping client: %s", err)
	}
	return c, nil
}

func putChunk(cmd *cobra.Command, args []string) error {
	var (
		content []byte
		err     error
	)
	if len(args) == 1 {
		content, err = ioutil.ReadFile(args[0])
	} else {
		content, err = ioutil.ReadAll(os.Stdin)
	}
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), _config.RequestTimeout)
	defer cancel()

	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	name, err := c.PutChunk(ctx, content)
	if err != nil {
		return err
	}
	fmt.Println(name.Hex())
	return nil
}

func getChunk(cmd *cobra.Command, args []string) error {
	name, err := xorname.ParseHex(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), _config.RequestTimeout)
	defer cancel()

	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	chunk, err := c.GetChunk(ctx, name)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(chunk.Content)
	return err
}
