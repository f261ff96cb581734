// Package app wires the configured stores, the presence module and the
// component connection into a running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/meszmate/mucd/internal/component"
	"github.com/meszmate/mucd/internal/config"
	"github.com/meszmate/mucd/internal/retention"
	"github.com/meszmate/mucd/internal/storage/sqlite"
	"github.com/meszmate/mucd/internal/xmpp/muc"
	"github.com/meszmate/mucd/internal/xmpp/muc/delivery"
	"github.com/meszmate/mucd/internal/xmpp/muc/history"
	"github.com/meszmate/mucd/internal/xmpp/muc/presence"
	"github.com/meszmate/mucd/pkg/plugin"
)

var errStreamClosed = errors.New("stream closed")

// App is the assembled service
type App struct {
	cfg *config.Config
	log hclog.Logger

	storage   *sqlite.DB
	history   *history.Store
	rooms     *muc.Manager
	component *component.Component
	queue     *delivery.Queue
	presence  *presence.Module
	archiver  *history.Archiver
	plugins   *plugin.Host
	retention *retention.Job
}

// New builds the service from cfg without connecting it
func New(cfg *config.Config, logger hclog.Logger) (*App, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	a := &App{cfg: cfg, log: logger}

	defaults, err := RoomDefaults(cfg.MUC.DefaultRoom)
	if err != nil {
		return nil, err
	}

	if cfg.Storage.Enabled || cfg.History.Backend == "buntdb" {
		if err := os.MkdirAll(cfg.General.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	if cfg.Storage.Enabled {
		a.storage, err = sqlite.New(cfg.General.DataDir)
		if err != nil {
			return nil, err
		}
		if cfg.Storage.VacuumOnStartup {
			if err := a.storage.Vacuum(); err != nil {
				logger.Warn("failed to vacuum database", "error", err)
			}
		}
		logger.Debug("storage initialized", "dir", cfg.General.DataDir)
	}

	if cfg.History.Backend == "buntdb" {
		a.history, err = history.Open(HistoryPath(cfg), cfg.History.TTL.Duration, logger.Named("history"))
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	var store muc.Store
	if a.storage != nil {
		store = a.storage
	}
	a.rooms = muc.NewManager(defaults, store)

	a.component, err = component.New(component.Config{
		JID:     cfg.Component.JID,
		Secret:  cfg.Component.Secret,
		Address: cfg.Component.Address,
	}, logger.Named("component"))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.queue = delivery.NewQueue(a.component, cfg.MUC.DelayInterval.Duration, delivery.ParseOrder(cfg.MUC.DelayOrder), logger.Named("delivery"))

	a.plugins = plugin.NewHost(cfg.Plugins.PluginDir, cfg.Plugins.Enabled, cfg.Plugins.Options, logger.Named("plugins"))
	if err := a.plugins.LoadAll(); err != nil {
		logger.Warn("failed to load plugins", "error", err)
	}

	opts := presence.Options{
		LockNewRooms:   cfg.MUC.LockNewRooms,
		FilterPresence: cfg.MUC.FilterPresence,
		DeferCatchUp:   cfg.MUC.DeferCatchUp,
		Queue:          a.queue,
		Log:            logger.Named("presence"),
	}
	if a.history != nil {
		opts.History = a.history
	}
	var loggers presence.Loggers
	if a.storage != nil {
		loggers = append(loggers, a.storage)
	}
	if len(a.plugins.List()) > 0 {
		loggers = append(loggers, a.plugins)
	}
	if len(loggers) > 0 {
		opts.Logger = loggers
	}
	a.presence = presence.New(a.component, a.rooms, opts)
	a.archiver = history.NewArchiver(a.rooms, a.history, logger.Named("archive"))

	a.component.SetPresenceHandler(a.presence)
	a.component.SetMessageHandler(a.archiver)

	if a.storage != nil && cfg.Storage.RetentionDays > 0 {
		a.retention, err = retention.New(a.storage, cfg.Storage.RetentionDays, cfg.Storage.PruneSchedule, logger.Named("retention"))
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	return a, nil
}

// RoomDefaults converts the configured default room settings
func RoomDefaults(c config.RoomConfig) (muc.RoomConfig, error) {
	anonymity, err := muc.ParseAnonymity(c.Anonymity)
	if err != nil {
		return muc.RoomConfig{}, fmt.Errorf("muc.default_room: %w", err)
	}
	return muc.RoomConfig{
		Anonymity:         anonymity,
		MembersOnly:       c.MembersOnly,
		Moderated:         c.Moderated,
		PasswordProtected: c.PasswordProtected,
		Password:          c.Password,
		Persistent:        c.Persistent,
		Logging:           c.Logging,
	}, nil
}

// HistoryPath returns the transcript database location, relative paths
// being taken from the data directory.
func HistoryPath(cfg *config.Config) string {
	p := cfg.History.Path
	switch {
	case p == "" || p == ":memory:":
		return ":memory:"
	case filepath.IsAbs(p):
		return p
	default:
		return filepath.Join(cfg.General.DataDir, p)
	}
}

// Config returns the configuration
func (a *App) Config() *config.Config {
	return a.cfg
}

// Rooms returns the room repository
func (a *App) Rooms() *muc.Manager {
	return a.rooms
}

// Component returns the server connection
func (a *App) Component() *component.Component {
	return a.component
}

// Storage returns the sqlite store, nil when storage is disabled
func (a *App) Storage() *sqlite.DB {
	return a.storage
}

// Presence returns the presence module
func (a *App) Presence() *presence.Module {
	return a.presence
}

// Run connects to the server and serves until ctx is done or the
// connection fails. The delivery queue and the retention job run
// alongside.
func (a *App) Run(ctx context.Context) error {
	if err := a.component.Connect(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.component.Serve(gctx); err != nil {
			return err
		}
		return errStreamClosed
	})
	g.Go(func() error {
		return a.queue.Run(gctx)
	})
	if a.retention != nil {
		g.Go(func() error {
			return a.retention.Run(gctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, errStreamClosed) {
		a.log.Info("server closed the stream")
		return nil
	}
	if ctx.Err() != nil {
		// Shut down on request; errors from closing the stream are expected.
		return nil
	}
	return err
}

// Close releases plugins and stores
func (a *App) Close() error {
	var errs []error
	if a.plugins != nil {
		a.plugins.UnloadAll()
	}
	if a.component != nil {
		errs = append(errs, a.component.Disconnect())
	}
	if a.rooms != nil {
		for _, addr := range a.rooms.Rooms() {
			unlock := a.rooms.Lock(addr)
			if room, err := a.rooms.GetRoom(addr); err == nil && room != nil {
				errs = append(errs, a.rooms.SaveRoom(room))
			}
			unlock()
		}
	}
	if a.history != nil {
		errs = append(errs, a.history.Close())
	}
	if a.storage != nil {
		errs = append(errs, a.storage.Close())
	}
	return errors.Join(errs...)
}
