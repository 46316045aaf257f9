package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/crypto/keys"
	"github.com/mosaicnetworks/sectiond/src/peers"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the node's
	// identity keys
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database
	DefaultBadgerFile = "badger_db"

	// DefaultGenesisKeyFile is the default name of the file containing the
	// hex encoded genesis key, the root of trust of the network.
	DefaultGenesisKeyFile = "genesis_key"
)

// Default configuration values.
const (
	DefaultLogLevel                = "debug"
	DefaultBindAddr                = "127.0.0.1:1337"
	DefaultServiceAddr             = "127.0.0.1:8000"
	DefaultTCPTimeout              = 1000 * time.Millisecond
	DefaultJoinTimeout             = 10000 * time.Millisecond
	DefaultMaxPool                 = 2
	DefaultStore                   = false
	DefaultTickInterval            = 100 * time.Millisecond
	DefaultElderCount              = 7
	DefaultRecommendedSectionSize  = 10
	DefaultMinAdultAge             = 5
	DefaultFirstSectionMinAge      = DefaultMinAdultAge + 1
	DefaultFirstSectionMaxAge      = 100
	DefaultMaxDataSize             = 1024 * 1024
	DefaultMaxDataEntries          = 1000
	DefaultResourceProofDataSize   = 64 * 1024
	DefaultResourceProofDifficulty = 8
	DefaultElderSubset             = 3
	DefaultDKGGossipInterval       = 3 * time.Second
	DefaultDKGTimeout              = 60 * time.Second
	DefaultMembershipTimeout       = 30 * time.Second
	DefaultAggregatorCapacity      = 1000
	DefaultAggregatorTTL           = 2 * time.Minute
	DefaultMaxAERetries            = 5
	DefaultRequestTimeout          = 10 * time.Second
	DefaultShutdownGrace           = 2 * time.Second
)

// Config contains all the configuration properties of a sectiond node.
type Config struct {
	// DataDir is the top-level directory containing sectiond configuration and
	// data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, receives a JSON copy of every log line.
	LogFile string `mapstructure:"log-file"`

	// BindAddr is the local address:port where this node talks to other nodes
	// and clients. In some cases, there may be a routable address that cannot
	// be bound. Use AdvertiseAddr to advertise a different address.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// nodes.
	AdvertiseAddr string `mapstructure:"advertise"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// MaxPool controls how many connections are pooled per target.
	MaxPool int `mapstructure:"max-pool"`

	// TCPTimeout is the timeout of a single message exchange.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// JoinTimeout is the timeout of join messages, which carry resource
	// proofs.
	JoinTimeout time.Duration `mapstructure:"join-timeout"`

	// Store activates persistant storage.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// Bootstrap loads the node's network knowledge and key shares from an
	// existing database. Forces Store.
	Bootstrap bool `mapstructure:"bootstrap"`

	// Genesis makes the node found the network: it becomes the single elder
	// of the first section, with a fresh genesis key.
	Genesis bool `mapstructure:"genesis"`

	// Moniker defines the friendly name of this node
	Moniker string `mapstructure:"moniker"`

	// TickInterval is the period of the control timer driving gossip and
	// timeouts.
	TickInterval time.Duration `mapstructure:"tick"`

	// ElderCount is the number of elders of a section.
	ElderCount int `mapstructure:"elder-count"`

	// RecommendedSectionSize is the number of members each half of a section
	// needs before the section splits.
	RecommendedSectionSize int `mapstructure:"recommended-section-size"`

	// MinAdultAge is the age of nodes joining an established section.
	MinAdultAge uint8 `mapstructure:"min-adult-age"`

	// FirstSectionMinAge and FirstSectionMaxAge bound the ages handed out in
	// the first section, where joining nodes start older so that elders are
	// not replaced at every join.
	FirstSectionMinAge uint8 `mapstructure:"first-section-min-age"`
	FirstSectionMaxAge uint8 `mapstructure:"first-section-max-age"`

	// MaxDataSize is the maximum encoded size of a structured map.
	MaxDataSize int `mapstructure:"max-data-size"`

	// MaxDataEntries is the maximum number of entries of a structured map,
	// tombstones included.
	MaxDataEntries int `mapstructure:"max-data-entries"`

	// ResourceProofDataSize is the number of bytes a joining node must hold to
	// answer its challenge.
	ResourceProofDataSize uint64 `mapstructure:"resource-proof-data-size"`

	// ResourceProofDifficulty is the number of leading zero bits of a valid
	// resource proof.
	ResourceProofDifficulty uint8 `mapstructure:"resource-proof-difficulty"`

	// ElderSubset is the number of elders a client request is sent to.
	ElderSubset int `mapstructure:"elder-subset"`

	// DKGGossipInterval is the period at which unfinished DKG sessions gossip.
	DKGGossipInterval time.Duration `mapstructure:"dkg-gossip-interval"`

	// DKGTimeout is the lifetime of a DKG session.
	DKGTimeout time.Duration `mapstructure:"dkg-timeout"`

	// MembershipTimeout is the lifetime of a membership round.
	MembershipTimeout time.Duration `mapstructure:"membership-timeout"`

	// AggregatorCapacity bounds the signature aggregators.
	AggregatorCapacity int `mapstructure:"aggregator-capacity"`

	// AggregatorTTL is the age after which incomplete aggregations are
	// dropped.
	AggregatorTTL time.Duration `mapstructure:"aggregator-ttl"`

	// MaxAERetries is the number of times a message is resent after
	// anti-entropy bounces.
	MaxAERetries int `mapstructure:"max-ae-retries"`

	// RequestTimeout is the time a client waits for responses.
	RequestTimeout time.Duration `mapstructure:"request-timeout"`

	// ShutdownGrace is the time given to in-flight commands on shutdown.
	ShutdownGrace time.Duration `mapstructure:"shutdown-grace"`

	// Key is the identity of the node.
	Key *keys.Keypair

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:                 DefaultDataDir(),
		LogLevel:                DefaultLogLevel,
		BindAddr:                DefaultBindAddr,
		ServiceAddr:             DefaultServiceAddr,
		TCPTimeout:              DefaultTCPTimeout,
		JoinTimeout:             DefaultJoinTimeout,
		MaxPool:                 DefaultMaxPool,
		Store:                   DefaultStore,
		DatabaseDir:             DefaultDatabaseDir(),
		TickInterval:            DefaultTickInterval,
		ElderCount:              DefaultElderCount,
		RecommendedSectionSize:  DefaultRecommendedSectionSize,
		MinAdultAge:             DefaultMinAdultAge,
		FirstSectionMinAge:      DefaultFirstSectionMinAge,
		FirstSectionMaxAge:      DefaultFirstSectionMaxAge,
		MaxDataSize:             DefaultMaxDataSize,
		MaxDataEntries:          DefaultMaxDataEntries,
		ResourceProofDataSize:   DefaultResourceProofDataSize,
		ResourceProofDifficulty: DefaultResourceProofDifficulty,
		ElderSubset:             DefaultElderSubset,
		DKGGossipInterval:       DefaultDKGGossipInterval,
		DKGTimeout:              DefaultDKGTimeout,
		MembershipTimeout:       DefaultMembershipTimeout,
		AggregatorCapacity:      DefaultAggregatorCapacity,
		AggregatorTTL:           DefaultAggregatorTTL,
		MaxAERetries:            DefaultMaxAERetries,
		RequestTimeout:          DefaultRequestTimeout,
		ShutdownGrace:           DefaultShutdownGrace,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests. Resource proofs and DKG gossip are made cheap.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.TickInterval = 20 * time.Millisecond
	config.ResourceProofDataSize = 1024
	config.ResourceProofDifficulty = 2
	config.DKGGossipInterval = 200 * time.Millisecond
	config.RequestTimeout = 3 * time.Second
	config.ShutdownGrace = 100 * time.Millisecond
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level sectiond directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely set
// it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the identity keys.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// PeersFile returns the full path of the JSON file listing the contacts used
// to join the network.
func (c *Config) PeersFile() string {
	return filepath.Join(c.DataDir, peers.JSONPeerSetPath)
}

// GenesisKeyFile returns the full path of the file containing the genesis
// key.
func (c *Config) GenesisKeyFile() string {
	return filepath.Join(c.DataDir, DefaultGenesisKeyFile)
}

// Logger returns a formatted logrus Entry, with prefix set to "sectiond".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
		if c.LogFile != "" {
			c.logger.AddHook(lfshook.NewHook(lfshook.PathMap{
				logrus.DebugLevel: c.LogFile,
				logrus.InfoLevel:  c.LogFile,
				logrus.WarnLevel:  c.LogFile,
				logrus.ErrorLevel: c.LogFile,
				logrus.FatalLevel: c.LogFile,
				logrus.PanicLevel: c.LogFile,
			}, &logrus.JSONFormatter{}))
		}
	}
	return c.logger.WithField("prefix", "sectiond")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level sectiond
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Sectiond")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Sectiond")
		} else {
			return filepath.Join(home, ".sectiond")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
