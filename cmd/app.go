/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"io"
	"path/filepath"

	"github.com/allbin/uart-mcp/internal/blacklist"
	"github.com/allbin/uart-mcp/internal/config"
	"github.com/allbin/uart-mcp/internal/logging"
	"github.com/allbin/uart-mcp/internal/manager"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// app is the component graph shared by the commands that touch ports.
type app struct {
	log       zerolog.Logger
	level     *logging.Level
	pinned    bool
	store     *config.Store
	blacklist *blacklist.Manager
	manager   *manager.Manager
}

// newApp loads the configuration and blacklist and builds a serial manager.
// Logs go to logOut; the log level flag wins over the configuration file.
func newApp(logOut io.Writer) (*app, error) {
	configPath := viper.GetString("config")
	settings, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level := viper.GetString("log-level")
	if level == "" {
		level = settings.LogLevel
	}
	log, gate, err := logging.New(level, viper.GetString("log-format"), logOut)
	if err != nil {
		return nil, err
	}

	store, err := config.NewStore(configPath, config.WithLogger(log), config.WithSettings(settings))
	if err != nil {
		return nil, err
	}
	bl, err := loadBlacklist(log)
	if err != nil {
		return nil, err
	}

	return &app{
		log:       log,
		level:     gate,
		pinned:    gate.Pinned() || viper.GetString("log-level") != "",
		store:     store,
		blacklist: bl,
		manager:   manager.New(bl, store, manager.WithLogger(log)),
	}, nil
}

func loadBlacklist(log zerolog.Logger) (*blacklist.Manager, error) {
	return blacklist.New(viper.GetString("blacklist"), blacklist.WithLogger(log))
}

// watch reloads the configuration and blacklist whenever either file
// changes, until ctx is done.
func (a *app) watch(ctx context.Context) error {
	configPath := filepath.Clean(a.store.Path())
	blacklistPath := filepath.Clean(a.blacklist.Path())

	return config.Watch(ctx, a.log, func(path string) {
		switch path {
		case configPath:
			if a.store.Reload() == nil {
				a.applyLogLevel()
			}
		case blacklistPath:
			_ = a.blacklist.Reload()
		}
	}, configPath, blacklistPath)
}

// applyLogLevel switches every logger to the level of the current
// configuration, unless the level was set by flag or environment.
func (a *app) applyLogLevel() {
	if a.pinned {
		return
	}
	lvl, err := logging.ParseLevel(a.store.Settings().LogLevel)
	if err != nil || lvl == a.level.Get() {
		return
	}
	a.level.Set(lvl)
	a.log.Info().Str("level", a.store.Settings().LogLevel).Msg("log level changed")
}
