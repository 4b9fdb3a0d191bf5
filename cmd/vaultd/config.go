package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "vaultd.conf"
	defaultLogFilename    = "vaultd.log"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultRPCPort        = "10443"
)

var (
	defaultHomeDir   = btcdHomeDir()
	defaultConfigDir = filepath.Join(defaultHomeDir, "vaultd")
)

func btcdHomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(homeDir, ".vaultd")
}

// neutrinoConfig mirrors chainregistry.go's NeutrinoMode block: the
// peer-discovery knobs a light client needs, with no per-chain backend
// switch since this daemon only ever speaks SPV.
type neutrinoConfig struct {
	AddPeers     []string `long:"addpeer" description:"add a peer to connect with at startup"`
	ConnectPeers []string `long:"connect" description:"connect only to the specified peers at startup"`
}

// config is the daemon's top-level flag/ini-file schema, grounded on the
// teacher's own go-flags-backed config struct shape (DataDir/LogDir/debug
// level plus a nested per-backend block).
type config struct {
	ConfigFile string `short:"C" long:"configfile" description:"path to configuration file"`
	DataDir    string `short:"b" long:"datadir" description:"directory to store the vault's persistent state"`
	LogDir     string `long:"logdir" description:"directory to log output"`

	TestNet3 bool `long:"testnet" description:"use the test network"`
	RegTest  bool `long:"regtest" description:"use the regression test network"`
	SimNet   bool `long:"simnet" description:"use the simulation test network"`

	RPCListen string `long:"rpclisten" description:"host:port to listen for RPC connections"`

	DebugLevel string `short:"d" long:"debuglevel" description:"logging level for all subsystems, or <subsystem>=<level>,... pairs"`
	Profile    string `long:"profile" description:"enable HTTP profiling on the given port"`

	Neutrino neutrinoConfig `group:"Neutrino" namespace:"neutrino"`

	activeNetParams *chaincfg.Params
}

func defaultConfig() *config {
	return &config{
		DataDir:    filepath.Join(defaultConfigDir, defaultDataDirname),
		LogDir:     filepath.Join(defaultConfigDir, defaultLogDirname),
		RPCListen:  "localhost:" + defaultRPCPort,
		DebugLevel: "info",
	}
}

// loadConfig parses command-line flags into a config, resolving the selected
// network params and normalizing DataDir/LogDir to absolute paths. Only the
// command line is parsed: no config file is read, even when one is named.
func loadConfig() (*config, error) {
	cfg := defaultConfig()

	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	numNets := 0
	cfg.activeNetParams = &chaincfg.MainNetParams
	if cfg.TestNet3 {
		numNets++
		cfg.activeNetParams = &chaincfg.TestNet3Params
	}
	if cfg.RegTest {
		numNets++
		cfg.activeNetParams = &chaincfg.RegressionNetParams
	}
	if cfg.SimNet {
		numNets++
		cfg.activeNetParams = &chaincfg.SimNetParams
	}
	if numNets > 1 {
		return nil, fmt.Errorf("only one of --testnet, --regtest, or --simnet may be specified")
	}

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("unable to create data directory: %w", err)
	}
	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return nil, fmt.Errorf("unable to create log directory: %w", err)
	}

	return cfg, nil
}

func cleanAndExpandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	return filepath.Clean(os.ExpandEnv(path))
}
