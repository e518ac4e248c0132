// Command auctiond runs a single-item ascending auction with an escrow
// ledger, and doubles as a command line client for a running daemon.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/cloudx-io/openbidding/auction"
	"github.com/cloudx-io/openbidding/auctionapi"
	"github.com/cloudx-io/openbidding/bank"
	"github.com/cloudx-io/openbidding/client"
	"github.com/cloudx-io/openbidding/core"
	"github.com/cloudx-io/openbidding/identity"
	"github.com/cloudx-io/openbidding/internal/logger"
	"github.com/cloudx-io/openbidding/internal/transport"
	"github.com/cloudx-io/openbidding/store"
)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "auctiond",
		Short:         "Single-item ascending auction with an escrow ledger",
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newServeCommand())
	for _, cmd := range newClientCommands() {
		root.AddCommand(cmd)
	}
	return root
}

func newServeCommand() *cobra.Command {
	cfg := DefaultConfig()
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the auction daemon",
		Example: `  auctiond serve --listen tcp://127.0.0.1:5000 --store-driver sqlite --store-dsn auction.db
  auctiond serve --config /etc/auctiond/config.toml --listen vsock://:5000 --attest`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = DefaultConfigPath()
			}

			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if cfgFile != "" && fileExists(cfgFile) {
				fc, err := LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			}
			if err := ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.auctiond/config.toml)")
	f.StringVar(&cfg.Listen, "listen", cfg.Listen, "listen address, tcp://host:port or vsock://:port")
	f.IntVar(&cfg.MaxWorkers, "max-workers", cfg.MaxWorkers, "maximum concurrently handled connections")
	f.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "time allowed to read a request")
	f.StringVar(&cfg.HRP, "hrp", cfg.HRP, "bech32 prefix identities must carry (empty accepts plain identities)")
	f.StringVar(&cfg.Escrow, "escrow", cfg.Escrow, "bank account holding escrowed funds")
	f.BoolVar(&cfg.Attest, "attest", cfg.Attest, "attest the settlement on close (requires the Nitro Secure Module)")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve prometheus metrics on this address")
	f.DurationVar(&cfg.RequestTTL, "request-ttl", cfg.RequestTTL, "how long request ids are remembered")
	f.StringVar(&cfg.Store.Driver, "store-driver", cfg.Store.Driver, "store driver: memory, sqlite or postgres")
	f.StringVar(&cfg.Store.DSN, "store-dsn", cfg.Store.DSN, "store data source name")
	f.StringVar(&cfg.StoreLogLevel, "store-log-level", cfg.StoreLogLevel, "SQL log level: silent, error, warn or info")
	f.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level: debug, info, warn or error")
	f.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "log format: json or console")
	f.StringVar(&cfg.Log.Output, "log-output", cfg.Log.Output, "log output: stdout, stderr or a file path")
	return cmd
}

func runServe(ctx context.Context, cfg Config) error {
	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	st, err := store.Open(cfg.Store, log, cfg.StoreLogLevel)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("failed to close store", zap.Error(err))
		}
	}()

	ids := identity.New(cfg.HRP)
	genesis, err := cfg.genesis(ids)
	if err != nil {
		return err
	}
	escrow := bank.New(core.Identity(cfg.Escrow), genesis, log)

	metrics, err := auction.NewMetrics()
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	svc := auction.NewService(st, ids, escrow, log, metrics)

	if cfg.MetricsAddr != "" {
		reg := metrics.Registry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		ms, err := startMetricsServer(cfg.MetricsAddr, reg, log)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := ms.Stop(shutdownCtx); err != nil {
				log.Error("failed to stop metrics server", zap.Error(err))
			}
		}()
	}

	listener, err := transport.Listen(cfg.Listen)
	if err != nil {
		return err
	}

	log.Info("auctiond starting",
		zap.String("version", getVersion()),
		zap.String("listen", cfg.Listen),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("attest", cfg.Attest))
	return NewServer(cfg, svc, log).Serve(ctx, listener)
}

// clientFlags are shared by every client subcommand.
type clientFlags struct {
	addr    string
	timeout time.Duration
}

func (f *clientFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.addr, "addr", envOr("AUCTIOND_ADDR", DefaultListen), "daemon address")
	fs.DurationVar(&f.timeout, "timeout", client.DefaultTimeout, "request timeout")
}

func (f *clientFlags) client() *client.Client {
	return client.New(f.addr, f.timeout)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newClientCommands() []*cobra.Command {
	var (
		flags     clientFlags
		sender    string
		owner     string
		commodity string
		receiver  string
		amount    uint64
	)

	withFlags := func(cmd *cobra.Command) *cobra.Command {
		flags.register(cmd.Flags())
		return cmd
	}
	withSender := func(cmd *cobra.Command) *cobra.Command {
		cmd.Flags().StringVar(&sender, "sender", "", "identity sending the request")
		_ = cmd.MarkFlagRequired("sender")
		return withFlags(cmd)
	}

	instantiate := withSender(&cobra.Command{
		Use:   "instantiate",
		Short: "Create the auction",
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := flags.client().Instantiate(cmd.Context(), sender, owner, commodity, client.Coins(core.Amount(amount)))
			return printResult(cmd, resp, err)
		},
	})
	instantiate.Flags().StringVar(&owner, "owner", "", "auction owner (default: sender)")
	instantiate.Flags().StringVar(&commodity, "commodity", "", "description of the item for sale")
	instantiate.Flags().Uint64Var(&amount, "amount", 0, "funds deposited by the sender")

	bid := withSender(&cobra.Command{
		Use:   "bid",
		Short: "Place a bid, adding to the sender's deposit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := flags.client().PlaceBid(cmd.Context(), sender, client.Coins(core.Amount(amount)))
			return printResult(cmd, resp, err)
		},
	})
	bid.Flags().Uint64Var(&amount, "amount", 0, "amount to add to the sender's deposit")

	closeCmd := withSender(&cobra.Command{
		Use:   "close",
		Short: "Close the auction and pay the owner",
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := flags.client().Close(cmd.Context(), sender)
			return printResult(cmd, resp, err)
		},
	})

	retract := withSender(&cobra.Command{
		Use:   "retract",
		Short: "Withdraw a non-winning deposit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := flags.client().Retract(cmd.Context(), sender, receiver)
			return printResult(cmd, resp, err)
		},
	})
	retract.Flags().StringVar(&receiver, "receiver", "", "identity receiving the funds (default: sender)")

	query := func(use, short string, fn func(context.Context, *client.Client) (any, error)) *cobra.Command {
		return withFlags(&cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, _ []string) error {
				out, err := fn(cmd.Context(), flags.client())
				if err != nil {
					return err
				}
				return printJSON(cmd, out)
			},
		})
	}

	return []*cobra.Command{
		instantiate,
		bid,
		closeCmd,
		retract,
		query("config", "Show the auction configuration", func(ctx context.Context, c *client.Client) (any, error) {
			return c.Config(ctx)
		}),
		query("bids", "List bids, highest first", func(ctx context.Context, c *client.Client) (any, error) {
			return c.Bids(ctx)
		}),
		query("status", "Show the auction state and settlement", func(ctx context.Context, c *client.Client) (any, error) {
			return c.Status(ctx)
		}),
		query("ping", "Check the daemon is reachable", func(ctx context.Context, c *client.Client) (any, error) {
			if err := c.Ping(ctx); err != nil {
				return nil, err
			}
			return map[string]string{"status": "ok"}, nil
		}),
	}
}

// printResult prints the response even when the daemon reported a failure,
// then returns the failure.
func printResult(cmd *cobra.Command, resp *auctionapi.Response, err error) error {
	if resp != nil {
		if perr := printJSON(cmd, resp); perr != nil {
			return perr
		}
	}
	return err
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
