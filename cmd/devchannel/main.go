package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/devchannel/internal/cliconfig"
	"github.com/bft-labs/devchannel/pkg/channel"
	"github.com/bft-labs/devchannel/pkg/host"
	"github.com/bft-labs/devchannel/pkg/lifecycle"
	"github.com/bft-labs/devchannel/pkg/log"
	"github.com/bft-labs/devchannel/pkg/notify"
	"github.com/bft-labs/devchannel/pkg/state"
	"github.com/bft-labs/devchannel/plugins/configwatcher"
)

const longHelp = `Run the channels of one device against simulated drivers.

Each channel starts once its device and sink are connected and it is
enabled, stops when any of those goes away, and reapplies settings when the
configuration file changes. State notifications can be journaled to a CBOR
file and read back with "devchannel journal".

Configure via file (TOML or YAML), DEVCHANNEL_* environment variables, or
flags. Flags win over the environment, which wins over the file.`

var exampleUsage = strings.TrimSpace(`
  devchannel --config ./devchannel.toml --watch
  devchannel --config ./devchannel.yaml --journal /tmp/events.cbor --log-format json
  devchannel journal /tmp/events.cbor
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	bootLog := cliconfig.Logger()

	root := &cobra.Command{
		Use:     "devchannel",
		Short:   "Coordinate device channel lifecycles",
		Long:    longHelp,
		Example: exampleUsage,
		Version: fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			haveFile := cfgFile != "" && cliconfig.FileExists(cfgFile)
			if haveFile {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			} else if cfgPath != "" {
				return fmt.Errorf("config file %s not found", cfgPath)
			}

			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := log.NewZerologAdapter(os.Stderr, cfg.LogLevel, cfg.LogFormat)
			logger.Info("configuration",
				log.String("device", cfg.DeviceID),
				log.Int("channels", len(cfg.Channels)),
				log.Int("workers", cfg.Workers),
				log.Duration("stop_timeout", cfg.StopTimeout),
				log.String("journal", cfg.JournalPath))

			done := make(chan struct{})
			opts := []host.Option{
				host.WithLogger(logger),
				host.WithEventHandler(lifecycle.EmitterFunc(func(_, current lifecycle.State, reason string) {
					if current == lifecycle.StateCrashed {
						logger.Error("host crashed", log.String("reason", reason))
					}
				})),
				host.WithTimeoutHandler(func(ev channel.TimeoutEvent) {
					logger.Warn("driver is not responding",
						log.String("channel", ev.ChannelID),
						log.String("op", ev.Op.String()))
				}),
			}
			if haveFile {
				opts = append(opts, host.WithConfigSource(cfgFile, cliconfig.LoadChannels))
				if cfg.Watch {
					opts = append(opts, configwatcher.WithConfigWatcher(configwatcher.Config{
						DebounceDelay: cfg.WatchDebounce,
					}))
				}
			}

			h, err := host.New(cfg.HostConfig(), opts...)
			if err != nil {
				return fmt.Errorf("create host: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
			defer signal.Stop(sigCh)

			if err := h.Start(ctx); err != nil {
				return fmt.Errorf("start host: %w", err)
			}

			go func() {
				defer close(done)
				for sig := range sigCh {
					if sig != syscall.SIGHUP {
						logger.Info("received signal, stopping...", log.String("signal", sig.String()))
						return
					}
					if err := h.ReloadFromSource(ctx); err != nil {
						logger.Error("reload failed", log.Err(err))
					} else {
						logger.Info("configuration reloaded")
					}
				}
			}()
			<-done

			if err := h.Stop(); err != nil {
				return fmt.Errorf("stop host: %w", err)
			}
			return nil
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.devchannel/config.toml)")
	root.Flags().StringVar(&cfg.DeviceID, "device-id", cfg.DeviceID, "device identifier (generated when empty)")
	root.Flags().IntVar(&cfg.Workers, "workers", cfg.Workers, "dispatcher worker goroutines")
	root.Flags().IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "dispatcher queue capacity")
	root.Flags().DurationVar(&cfg.StartTimeout, "start-timeout", cfg.StartTimeout, "wait for a driver start confirmation before escalating")
	root.Flags().DurationVar(&cfg.StopTimeout, "stop-timeout", cfg.StopTimeout, "wait for a driver stop confirmation before escalating")
	root.Flags().DurationVar(&cfg.CloseTimeout, "close-timeout", cfg.CloseTimeout, "bound on shutdown")
	root.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	root.Flags().StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "console or json")
	root.Flags().StringVar(&cfg.JournalPath, "journal", cfg.JournalPath, "append state notifications to this CBOR file")
	root.Flags().StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "keep a status.json channel snapshot in this directory")
	root.Flags().BoolVar(&cfg.Watch, "watch", cfg.Watch, "reload channels when the config file changes")
	root.Flags().DurationVar(&cfg.WatchDebounce, "watch-debounce", cfg.WatchDebounce, "quiet period before a config reload")
	if err := root.Flags().MarkHidden("queue-size"); err != nil {
		bootLog.Info().Err(err).Msg("failed to hide queue-size flag")
	}

	root.AddCommand(journalCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		bootLog.Error().Err(err).Msg("devchannel")
		os.Exit(1)
	}
}

func journalCmd() *cobra.Command {
	var channelID string
	cmd := &cobra.Command{
		Use:   "journal <path>",
		Short: "Print the notifications recorded in a journal file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			events, readErr := notify.ReadJournal(f)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tCHANNEL\tKIND\tSTATE\tCODE\tSOURCE")
			for _, ev := range events {
				if channelID != "" && ev.ChannelID != channelID {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					ev.Time.Format(time.RFC3339Nano), ev.ChannelID, ev.Kind, ev.State, ev.Code, ev.Source)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if readErr != nil {
				return fmt.Errorf("read journal: %w", readErr)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&channelID, "channel", "", "only show this channel")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <state-dir>",
		Short: "Print the channel snapshot saved by the last run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := state.NewFileRepository(args[0]).Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load state: %w", err)
			}
			if s.Empty() {
				return fmt.Errorf("no snapshot in %s", args[0])
			}

			out := cmd.OutOrStdout()
			shutdown := "orderly"
			if !s.Clean {
				shutdown = "unclean"
			}
			fmt.Fprintf(out, "device %s, saved %s (%s)\n", s.DeviceID, s.SavedAt.Format(time.RFC3339), shutdown)

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CHANNEL\tKIND\tSTATE\tCODE\tUPDATED")
			for _, c := range s.Channels {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					c.ID, c.Kind, c.State, c.Code, c.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}
