package main

import (
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/20after4/configdir"
	"github.com/rs/zerolog"

	"github.com/opencockpit/carmedia/backend"
	"github.com/opencockpit/carmedia/backend/mediasession"
	"github.com/opencockpit/carmedia/backend/packages"
	"github.com/opencockpit/carmedia/backend/prefs"
)

const appName = "carmedia"

func main() {
	var (
		configPath = flag.String("config", "", "path to config file")
		user       = flag.Int("user", 0, "initial visible user id")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	confDir := configdir.LocalConfig(appName)
	dataDir := configdir.LocalCache(appName)
	configdir.MakePath(confDir)
	configdir.MakePath(dataDir)

	path := *configPath
	if path == "" {
		path = filepath.Join(confDir, "config.toml")
	}
	cfg, err := backend.ReadConfigFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatal().Err(err).Str("path", path).Msg("failed to read config")
		}
		cfg = backend.DefaultConfig()
		if err := cfg.WriteConfigFile(path); err != nil {
			logger.Warn().Err(err).Msg("could not write default config")
		}
	}

	level := cfg.Logging.Level
	if *debug {
		level = "debug"
	}
	if lvl, err := zerolog.ParseLevel(level); err == nil {
		logger = logger.Level(lvl)
	}

	dbFile := cfg.Storage.DatabaseFile
	if dbFile == "" {
		dbFile = filepath.Join(dataDir, "mediastate.db")
	}
	store, err := prefs.OpenSQLite(dbFile, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open media state store")
	}
	defer store.Close()

	componentsDir := cfg.Storage.ComponentsDir
	if componentsDir == "" {
		componentsDir = filepath.Join(dataDir, "components")
		os.MkdirAll(componentsDir, 0755)
	}
	index, err := packages.Open(componentsDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", componentsDir).Msg("failed to open component index")
	}
	defer index.Close()

	registry := mediasession.NewRegistry()
	connector := backend.ConnectorFunc(func(user int, source mediasession.Component, autoplay bool) {
		logger.Info().Int("user", user).Stringer("source", source).
			Bool("autoplay", autoplay).Msg("media connector bootstrap")
	})

	coord := backend.NewCoordinator(cfg, store, registry, index, connector, logger)
	defer coord.Release()

	// Standalone mode: one local user whose storage is always available.
	coord.OnUserUnlocked(*user)
	coord.OnUserVisible(*user, false)

	logger.Info().Str("config", path).Str("db", dbFile).
		Str("components", componentsDir).Msg("media source coordinator started")

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1)
	for s := range sig {
		if s == syscall.SIGUSR1 {
			coord.Dump(os.Stderr)
			continue
		}
		logger.Info().Msg("shutting down")
		return
	}
}
