package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"mellium.im/xmpp/jid"

	"github.com/meszmate/mucd/internal/app"
	"github.com/meszmate/mucd/internal/config"
	"github.com/meszmate/mucd/internal/logging"
	"github.com/meszmate/mucd/internal/storage/sqlite"
	"github.com/meszmate/mucd/internal/ui"
	"github.com/meszmate/mucd/internal/ui/theme"
	"github.com/meszmate/mucd/internal/xmpp/muc"
	"github.com/meszmate/mucd/internal/xmpp/muc/history"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := config.FlagSet()
	root := &cobra.Command{
		Use:           "mucd",
		Short:         "Multi-User Chat service for XMPP servers",
		Long:          `mucd is an XEP-0114 external component hosting XMPP Multi-User Chat rooms.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().AddFlagSet(flags)

	root.AddCommand(
		newServeCmd(flags),
		newRoomsCmd(flags),
		newPruneCmd(flags),
		newHistoryCmd(flags),
		newHashPasswordCmd(),
	)
	return root
}

func newServeCmd(flags *pflag.FlagSet) *cobra.Command {
	var monitor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to the server and host rooms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load("", flags)
			if err != nil {
				return err
			}

			logCfg := logging.Config{
				Level:   cfg.Logging.Level,
				File:    cfg.Logging.File,
				Console: cfg.Logging.Console,
				JSON:    cfg.Logging.JSON,
			}
			if monitor {
				// The monitor owns the terminal.
				logCfg.Console = false
				if logCfg.File == "" {
					logCfg.File = filepath.Join(cfg.General.DataDir, "mucd.log")
				}
			}
			logger, err := logging.Init("mucd", logCfg)
			if err != nil {
				return err
			}
			defer logger.Close()

			a, err := app.New(cfg, logger.Logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Error("shutdown failed", "error", err)
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !monitor {
				return a.Run(ctx)
			}

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			done := make(chan error, 1)
			go func() {
				done <- a.Run(ctx)
				cancel()
			}()

			themes := theme.NewManager(cfg.UI.ThemeDir)
			if err := themes.SetTheme(cfg.UI.Theme); err != nil {
				logger.Warn("falling back to default theme", "error", err)
			}
			model := ui.New(a.Component().Addr().String(), a.Rooms(), a.Component().Stats, themes.Styles(), cfg.UI.Refresh.Duration)
			if err := ui.Run(ctx, model); err != nil {
				cancel()
				<-done
				return err
			}
			cancel()
			return <-done
		},
	}
	cmd.Flags().BoolVarP(&monitor, "monitor", "m", false, "show a live room monitor")
	return cmd
}

func openStorage(flags *pflag.FlagSet) (*config.Config, *sqlite.DB, error) {
	cfg, err := config.Load("", flags)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Storage.Enabled {
		return nil, nil, errors.New("storage is disabled in the configuration")
	}
	db, err := sqlite.New(cfg.General.DataDir)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func render(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func newRoomsCmd(flags *pflag.FlagSet) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List stored rooms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := openStorage(flags)
			if err != nil {
				return err
			}
			defer db.Close()

			recs, err := db.ListRooms()
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No stored rooms.")
				return nil
			}
			rows := make([][]string, 0, len(recs))
			for _, rec := range recs {
				rows = append(rows, []string{
					rec.Address.String(),
					rec.Config.Name,
					string(rec.Config.Anonymity),
					yesNo(rec.Config.MembersOnly),
					yesNo(rec.Config.Moderated),
					yesNo(rec.Config.PasswordProtected),
					yesNo(rec.Config.Logging),
					yesNo(rec.Locked),
					strconv.Itoa(len(rec.Affiliations)),
					rec.Subject.Text,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), render(
				[]string{"Room", "Name", "Anonymity", "Members", "Moderated", "Password", "Logged", "Locked", "Affiliations", "Subject"},
				rows))
			return nil
		},
	}

	var limit, offset int
	logCmd := &cobra.Command{
		Use:   "log <room>",
		Short: "Show the join/leave log of a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			room, err := jid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid room address: %w", err)
			}
			_, db, err := openStorage(flags)
			if err != nil {
				return err
			}
			defer db.Close()

			entries, err := db.GetRoomLog(room, limit, offset)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{e.Timestamp.UTC().Format(time.RFC3339), e.Event, e.Nick, e.JID})
			}
			fmt.Fprintln(cmd.OutOrStdout(), render([]string{"Time", "Event", "Nick", "JID"}, rows))
			return nil
		},
	}
	logCmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of entries")
	logCmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")

	deleteCmd := &cobra.Command{
		Use:   "delete <room>",
		Short: "Delete a stored room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			room, err := jid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid room address: %w", err)
			}
			_, db, err := openStorage(flags)
			if err != nil {
				return err
			}
			defer db.Close()
			return db.DeleteRoom(room)
		},
	}

	cmd.AddCommand(logCmd, deleteCmd)
	return cmd
}

func newPruneCmd(flags *pflag.FlagSet) *cobra.Command {
	var days int
	var vacuum bool
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old join/leave log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := openStorage(flags)
			if err != nil {
				return err
			}
			defer db.Close()

			if days == 0 {
				days = cfg.Storage.RetentionDays
			}
			if days <= 0 {
				return errors.New("no retention configured; pass --days")
			}
			n, err := db.DeleteOldEvents(days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d entries older than %d days.\n", n, days)

			if vacuum {
				if err := db.Vacuum(); err != nil {
					return err
				}
				size, err := db.GetDatabaseSize()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Database size is now %d bytes.\n", size)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "delete entries older than this many days (default from config)")
	cmd.Flags().BoolVar(&vacuum, "vacuum", false, "vacuum the database afterwards")
	return cmd
}

func newHistoryCmd(flags *pflag.FlagSet) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <room>",
		Short: "Show the stored transcript of a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			room, err := jid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid room address: %w", err)
			}
			cfg, err := config.Load("", flags)
			if err != nil {
				return err
			}
			if cfg.History.Backend != "buntdb" || app.HistoryPath(cfg) == ":memory:" {
				return errors.New("no on-disk history configured")
			}
			store, err := history.Open(app.HistoryPath(cfg), 0, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Entries(room, limit)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{e.At.UTC().Format(time.RFC3339), e.Kind, e.Nick})
			}
			fmt.Fprintln(cmd.OutOrStdout(), render([]string{"Time", "Kind", "Nick"}, rows))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", history.DefaultMaxStanzas, "number of entries")
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Hash a room password for the configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := muc.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
