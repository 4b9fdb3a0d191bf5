package main

import (
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/btcsuite/btcwallet/walletdb"
	flags "github.com/jessevdk/go-flags"

	vaultdb "github.com/sigvault/vault/vault/walletdb"

	"github.com/sigvault/vault/sync"
	"github.com/sigvault/vault/vault"
)

// vaultdMain is the true entry point for vaultd. It is kept separate from
// main so that deferred cleanup still runs when a subcommand (or an error
// path) wants to exit non-zero, matching the teacher's own lndMain split.
func vaultdMain() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename)); err != nil {
		return err
	}
	setLogLevel("all", cfg.DebugLevel)
	defer logRotator.Close()

	vltdLog.Infof("vaultd starting, network %s", cfg.activeNetParams.Name)

	if cfg.Profile != "" {
		go func() {
			addr := net.JoinHostPort("", cfg.Profile)
			vltdLog.Infof("profiling server listening on %s", addr)
			vltdLog.Errorf("profiling server stopped: %v", http.ListenAndServe(addr, nil))
		}()
	}

	store, err := vaultdb.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("unable to open store: %w", err)
	}

	v, err := vault.Open(store, cfg.activeNetParams)
	if err != nil {
		return fmt.Errorf("unable to open vault: %w", err)
	}

	shutdownOnFailure := func(err error) {
		vltdLog.Errorf("health check failed, shutting down: %v", err)
		os.Exit(1)
	}
	if err := v.Start(vault.DefaultHealthCheckConfig(), shutdownOnFailure); err != nil {
		return fmt.Errorf("unable to start health monitor: %w", err)
	}

	netDataDir := filepath.Join(cfg.DataDir, "neutrino")
	if err := os.MkdirAll(netDataDir, 0700); err != nil {
		return fmt.Errorf("unable to create neutrino data directory: %w", err)
	}
	neutrinoDB, err := walletdb.Create("bdb", filepath.Join(netDataDir, "neutrino.db"), true, 0)
	if err != nil {
		return fmt.Errorf("unable to open neutrino database: %w", err)
	}

	client, err := sync.NewNeutrinoClient(sync.NeutrinoConfig{
		DataDir:      netDataDir,
		Database:     neutrinoDB,
		ChainParams:  *cfg.activeNetParams,
		AddPeers:     cfg.Neutrino.AddPeers,
		ConnectPeers: cfg.Neutrino.ConnectPeers,
	})
	if err != nil {
		return fmt.Errorf("unable to create neutrino client: %w", err)
	}

	coordinator := sync.New(v, client, 0)
	if err := coordinator.Start(); err != nil {
		return fmt.Errorf("unable to start sync coordinator: %w", err)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt

	vltdLog.Infof("received interrupt, shutting down")

	if err := coordinator.Stop(); err != nil {
		vltdLog.Errorf("error stopping sync coordinator: %v", err)
	}
	if err := v.Stop(); err != nil {
		vltdLog.Errorf("error stopping vault: %v", err)
	}

	return nil
}

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	if err := vaultdMain(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
