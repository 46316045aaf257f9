package sectiond

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mosaicnetworks/sectiond/src/config"
	"github.com/mosaicnetworks/sectiond/src/crypto/keys"
	"github.com/mosaicnetworks/sectiond/src/net"
	"github.com/mosaicnetworks/sectiond/src/node"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/service"
	"github.com/mosaicnetworks/sectiond/src/store"
)

// Sectiond is the engine that ties a node to its transport, store and HTTP
// service, as configured by a Config.
type Sectiond struct {
	Config    *config.Config
	Node      *node.Node
	Transport net.Transport
	Store     store.Store
	Service   *service.Service
}

// NewSectiond ...
func NewSectiond(conf *config.Config) *Sectiond {
	engine := &Sectiond{
		Config: conf,
	}

	return engine
}

func (s *Sectiond) initTransport() error {
	if s.Transport != nil {
		return nil
	}

	transport, err := net.NewTCPTransport(net.TCPConfig{
		BindAddr:      s.Config.BindAddr,
		AdvertiseAddr: s.Config.AdvertiseAddr,
		MaxPool:       s.Config.MaxPool,
		Timeout:       s.Config.TCPTimeout,
		JoinTimeout:   s.Config.JoinTimeout,
	}, s.Config.Logger())
	if err != nil {
		return err
	}

	s.Transport = transport

	return nil
}

func (s *Sectiond) initStore() error {
	logger := s.Config.Logger()

	if !s.Config.Store {
		s.Store = store.NewInmemStore()
		logger.Debug("Created new in-mem store")
		return nil
	}

	dbPath := s.Config.DatabaseDir
	logger.WithField("path", dbPath).Debug("Attempting to load or create database")

	var err error
	if s.Config.Bootstrap {
		s.Store, err = store.LoadBadgerStore(dbPath, logger.WithField("prefix", "store"))
	} else {
		if _, serr := os.Stat(dbPath); serr == nil {
			return fmt.Errorf("database %s already exists, remove it or run with --bootstrap", dbPath)
		}
		s.Store, err = store.NewBadgerStore(dbPath, logger.WithField("prefix", "store"))
	}
	if err != nil {
		return err
	}

	return nil
}

func (s *Sectiond) initKey() error {
	if s.Config.Key != nil {
		return nil
	}

	logger := s.Config.Logger()
	kp, err := keys.NewSimpleKeyfile(s.Config.Keyfile()).LoadOrCreate()
	if err != nil {
		logger.WithError(err).Error("Cannot load or create identity")
		return err
	}
	logger.WithField("name", kp.Name()).Info("Identity")

	s.Config.Key = kp

	return nil
}

func (s *Sectiond) contacts() ([]peers.Peer, error) {
	ps, err := peers.NewJSONPeerSet(s.Config.DataDir).Peers()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return ps, nil
}

func (s *Sectiond) initNode() error {
	logger := s.Config.Logger()

	s.Node = node.NewNode(s.Config, s.Config.Key, s.Store, s.Transport)

	contacts, err := s.contacts()
	if err != nil {
		return err
	}

	if s.Config.Bootstrap {
		return s.Node.InitBootstrap(contacts)
	}

	if s.Config.Genesis {
		pk, err := s.Node.InitGenesis()
		if err != nil {
			return err
		}
		return WriteGenesisKey(s.Config.GenesisKeyFile(), pk)
	}

	g, err := ReadGenesis(s.Config.DataDir)
	switch {
	case err == nil:
		logger.WithField("section_key", g.SAP.SectionKey()).Info("Starting from genesis section")
		return s.Node.InitFromGenesisSAP(g.SAP, g.Share)
	case !os.IsNotExist(err):
		return err
	}

	genesisKey, err := ReadGenesisKey(s.Config.GenesisKeyFile())
	if err != nil {
		return fmt.Errorf("cannot join without a genesis key: %v", err)
	}
	if len(contacts) == 0 {
		return fmt.Errorf("cannot join without contacts in %s", s.Config.PeersFile())
	}
	s.Node.InitJoin(genesisKey, contacts)

	return nil
}

func (s *Sectiond) initService() error {
	if !s.Config.NoService {
		s.Service = service.NewService(s.Config.ServiceAddr, s.Node, s.Config.Logger().WithField("prefix", "service"))
	}
	return nil
}

// Init initialises the engine's components in order. The node is left ready
// to Run.
func (s *Sectiond) Init() error {
	if err := s.initKey(); err != nil {
		return err
	}

	if err := s.initStore(); err != nil {
		return err
	}

	if err := s.initTransport(); err != nil {
		return err
	}

	if err := s.initNode(); err != nil {
		return err
	}

	if err := s.initService(); err != nil {
		return err
	}

	return nil
}

// Run starts the service and runs the node until it shuts down.
func (s *Sectiond) Run() {
	if s.Service != nil {
		go s.Service.Serve()
	}

	s.Node.Run()

	if s.Service != nil {
		s.Service.Close()
	}
}

// Shutdown stops the node, which makes Run return.
func (s *Sectiond) Shutdown() {
	if s.Node != nil {
		s.Node.Shutdown()
	}
}

// Keygen creates a new identity in datadir. It fails if one already exists.
func Keygen(datadir string) (*keys.Keypair, error) {
	keyfile := keys.NewSimpleKeyfile(filepath.Join(datadir, config.DefaultKeyfile))

	if _, err := keyfile.ReadKey(); err == nil {
		return nil, fmt.Errorf("Another key already lives under %s", datadir)
	}

	kp, err := keys.GenerateKeypair()
	if err != nil {
		return nil, err
	}

	if err := keyfile.WriteKey(kp); err != nil {
		return nil, err
	}

	return kp, nil
}
