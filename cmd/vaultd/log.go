package main

import (
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/sigvault/vault/sync"
	"github.com/sigvault/vault/vault"
)

// logWriter implements io.Writer and sends to both the log rotator and
// stdout, matching the teacher's own dual-sink logging setup.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	logRotator.Write(p)
	return len(p), nil
}

var (
	backendLog = btclog.NewBackend(logWriter{})
	logRotator *rotator.Rotator

	vltdLog  = backendLog.Logger("VLTD")
	vaultLog = backendLog.Logger("VLTC")
	syncLog  = backendLog.Logger("SYNC")

	subsystemLoggers = map[string]btclog.Logger{
		"VLTD": vltdLog,
		"VLTC": vaultLog,
		"SYNC": syncLog,
	}
)

func init() {
	vault.UseLogger(vaultLog)
	sync.UseLogger(syncLog)
}

// initLogRotator opens the log file at logFile for writing, rotating it
// once it exceeds 10 MiB and keeping the 3 most recent rolls, per the
// teacher's own rotation policy.
func initLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return err
	}

	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return err
	}
	logRotator = r
	return nil
}

// setLogLevel raises or lowers the level of one subsystem's logger, or
// every subsystem's if subsystemID is "all".
func setLogLevel(subsystemID, level string) {
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		return
	}

	if subsystemID == "all" {
		for _, logger := range subsystemLoggers {
			logger.SetLevel(lvl)
		}
		return
	}

	if logger, ok := subsystemLoggers[subsystemID]; ok {
		logger.SetLevel(lvl)
	}
}
