package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mosaicnetworks/sectiond/src/sectiond"
)

//NewRunCmd returns the command that starts a sectiond node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runSectiond,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runSectiond(cmd *cobra.Command, args []string) error {
	engine := sectiond.NewSectiond(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	// The first interrupt asks the section to let the node go; a second one
	// stops it right away.
	signalCh := make(chan os.Signal, 2)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		_config.Logger().Info("Leaving the network")
		go func() {
			if err := engine.Node.Leave(); err != nil {
				_config.Logger().WithError(err).Warn("Leave")
			}
		}()
		<-signalCh
		engine.Shutdown()
	}()

	engine.Run()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.LogFile, "File where logs are also written, in JSON")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for sectiond node")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "Advertise IP:Port for sectiond node")
	cmd.Flags().DurationP("timeout", "t", _config.TCPTimeout, "TCP Timeout")
	cmd.Flags().DurationP("join-timeout", "j", _config.JoinTimeout, "Join Timeout")
	cmd.Flags().Int("max-pool", _config.MaxPool, "Connection pool size max")

	// Service
	cmd.Flags().Bool("no-service", _config.NoService, "Disable HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.DatabaseDir, "Dabatabase directory")
	cmd.Flags().Bool("bootstrap", _config.Bootstrap, "Load from database")

	// Network founding
	cmd.Flags().Bool("genesis", _config.Genesis, "Found a new network as its single elder")

	// Node configuration
	cmd.Flags().Duration("tick", _config.TickInterval, "Time between timer ticks")
	cmd.Flags().Int("elder-count", _config.ElderCount, "Number of elders per section")
	cmd.Flags().Int("recommended-section-size", _config.RecommendedSectionSize, "Adults needed on each side before a split")
	cmd.Flags().Uint8("min-adult-age", _config.MinAdultAge, "Age at which a node becomes an adult")
	cmd.Flags().Uint8("first-section-min-age", _config.FirstSectionMinAge, "Lowest age given to joiners of the first section")
	cmd.Flags().Uint8("first-section-max-age", _config.FirstSectionMaxAge, "Highest age given to joiners of the first section")
	cmd.Flags().Int("max-data-size", _config.MaxDataSize, "Max size of a chunk or map in bytes")
	cmd.Flags().Int("max-data-entries", _config.MaxDataEntries, "Max number of entries in a map")
	cmd.Flags().Uint64("resource-proof-data-size", _config.ResourceProofDataSize, "Size of the resource proof data")
	cmd.Flags().Uint8("resource-proof-difficulty", _config.ResourceProofDifficulty, "Leading zero bits of a resource proof")
	cmd.Flags().Int("elder-subset", _config.ElderSubset, "Number of elders a request is sent to")
	cmd.Flags().Duration("dkg-gossip-interval", _config.DKGGossipInterval, "Time between DKG gossips")
	cmd.Flags().Duration("dkg-timeout", _config.DKGTimeout, "Time before a DKG session is terminated")
	cmd.Flags().Duration("membership-timeout", _config.MembershipTimeout, "Time before a membership round is aborted")
	cmd.Flags().Int("aggregator-capacity", _config.AggregatorCapacity, "Signature aggregations kept in memory")
	cmd.Flags().Duration("aggregator-ttl", _config.AggregatorTTL, "Lifetime of a pending signature aggregation")
	cmd.Flags().Int("max-ae-retries", _config.MaxAERetries, "Anti-entropy resends per message")
	cmd.Flags().Duration("request-timeout", _config.RequestTimeout, "Timeout of requests made to the node")
	cmd.Flags().Duration("shutdown-grace", _config.ShutdownGrace, "Time given to outbound messages on shutdown")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	logFields := logrus.Fields{
		"sectiond.DataDir":       _config.DataDir,
		"sectiond.BindAddr":      _config.BindAddr,
		"sectiond.AdvertiseAddr": _config.AdvertiseAddr,
		"sectiond.ServiceAddr":   _config.ServiceAddr,
		"sectiond.NoService":     _config.NoService,
		"sectiond.MaxPool":       _config.MaxPool,
		"sectiond.Store":         _config.Store,
		"sectiond.LogLevel":      _config.LogLevel,
		"sectiond.Moniker":       _config.Moniker,
		"sectiond.TCPTimeout":    _config.TCPTimeout,
		"sectiond.JoinTimeout":   _config.JoinTimeout,
		"sectiond.Genesis":       _config.Genesis,
		"sectiond.ElderCount":    _config.ElderCount,
		"sectiond.ElderSubset":   _config.ElderSubset,
	}

	if _config.Store {
		logFields["sectiond.DatabaseDir"] = _config.DatabaseDir
		logFields["sectiond.Bootstrap"] = _config.Bootstrap
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/sectiond.toml (.json, .yaml also work)
	viper.SetConfigName("sectiond")      // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
