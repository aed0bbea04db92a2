package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/search-crawler/pkg/client"
	"github.com/Sternrassler/search-crawler/pkg/config"
	"github.com/Sternrassler/search-crawler/pkg/logging"
	"github.com/Sternrassler/search-crawler/pkg/metrics"
	"github.com/Sternrassler/search-crawler/pkg/pagination"
	"github.com/Sternrassler/search-crawler/pkg/progress"
	"github.com/Sternrassler/search-crawler/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Exit codes
const (
	ExitOK      = 0
	ExitFailed  = 1
	ExitPartial = 2
)

// progressQueueSize bounds the console/log progress queue.
const progressQueueSize = 256

func main() {
	os.Exit(runMain(os.Args[1:], os.Stdout, os.Stderr))
}

// runMain executes the CLI and returns the process exit code.
func runMain(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := ExitOK
	cmd := newRootCmd(stdout, stderr, &code)
	cmd.SetArgs(args)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if code == ExitOK {
			code = ExitFailed
		}
	}
	return code
}

func newRootCmd(stdout, stderr io.Writer, code *int) *cobra.Command {
	v := config.NewViper()
	var configFile string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "crawler",
		Short: "Crawl every page of a paginated search API into one JSON document",
		Long: `crawler probes the search API for the total result count, fetches every
page with a bounded number of concurrent requests and writes all documents,
in page order and with null fields removed, to a single {"docs":[...]} file.

Pages that fail are skipped and listed in the summary; the run only fails
when the page count cannot be determined or the output cannot be written.

Every flag can also be set in the config file or as CRAWLER_<SECTION>_<KEY>,
e.g. CRAWLER_CRAWL_CONCURRENCY=4.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				*code = ExitFailed
				return err
			}

			progressOut := stdout
			if quiet {
				progressOut = io.Discard
			}

			summary, err := run(cmd.Context(), cfg, progressOut, stderr)
			if err != nil {
				*code = ExitFailed
				return err
			}

			fmt.Fprintf(stdout, "wrote %d documents from %d/%d pages to %s\n",
				summary.Documents, summary.FetchedPages, summary.TotalPages, summary.Output)
			if summary.Partial() {
				fmt.Fprintf(stdout, "failed pages: %v\n", summary.FailedPages)
				if cfg.Crawl.FailOnPartial {
					*code = ExitPartial
				}
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "Path to a YAML config file")
	flags.BoolVarP(&quiet, "quiet", "q", false, "Do not print per-page progress")

	flags.String("base-url", "", "Search endpoint; pages are requested as <base-url>/<page>")
	flags.Int("page-size", 0, "Documents per page")
	flags.String("user-agent", "", "User-Agent header")
	flags.Duration("request-timeout", 0, "Per-request timeout")
	flags.Int("max-conns", 0, "Maximum connections to the API host")
	flags.IntP("concurrency", "p", 0, "Maximum page fetches in flight")
	flags.Duration("page-timeout", 0, "Per-page timeout (0 = request timeout only)")
	flags.String("mode", "", "Aggregation mode: buffered or streaming")
	flags.StringP("output", "o", "", "Output file")
	flags.String("summary", "", "Write the run summary as JSON to this file")
	flags.Bool("fail-on-partial", false, "Exit with status 2 when any page failed")
	flags.String("store", "", "Page store backend: memory, disk or redis")
	flags.String("store-dir", "", "Parent directory for the disk store")
	flags.String("redis-addr", "", "Redis address for the redis store")
	flags.Float64("rate", 0, "Maximum requests per second (0 = unpaced)")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.Bool("log-pretty", false, "Human-readable logs")
	flags.String("metrics-addr", "", "Serve /metrics on this address during the crawl")

	bindFlags(v, cmd, map[string]string{
		"base-url":        "api.base_url",
		"page-size":       "api.page_size",
		"user-agent":      "api.user_agent",
		"request-timeout": "api.request_timeout",
		"max-conns":       "api.max_conns_per_host",
		"concurrency":     "crawl.concurrency",
		"page-timeout":    "crawl.page_timeout",
		"mode":            "crawl.mode",
		"output":          "crawl.output",
		"summary":         "crawl.summary_path",
		"fail-on-partial": "crawl.fail_on_partial",
		"store":           "store.backend",
		"store-dir":       "store.dir",
		"redis-addr":      "store.redis.address",
		"rate":            "rate_limit.requests_per_second",
		"log-level":       "log.level",
		"log-pretty":      "log.pretty",
		"metrics-addr":    "metrics.address",
	})

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd
}

// bindFlags binds each flag to its config key. viper only prefers a bound
// flag over file and env values when the flag was set explicitly.
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for name, key := range keys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

// run wires the components from cfg and executes one crawl.
func run(ctx context.Context, cfg *config.Config, progressOut, logOut io.Writer) (*pagination.Summary, error) {
	logCfg := cfg.LoggingConfig()
	logCfg.Output = logOut
	logging.Setup(logCfg)
	logger := logging.NewLogger("cli")

	if cfg.Metrics.Address != "" {
		srv, err := metrics.Start(cfg.Metrics.Address, logger)
		if err != nil {
			return nil, err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("Failed to stop metrics server")
			}
		}()
	}

	limiter, err := ratelimit.NewLimiter(cfg.RateLimitConfig(), logging.NewLogger("ratelimit"))
	if err != nil {
		return nil, err
	}

	api, err := client.New(cfg.ClientConfig(limiter))
	if err != nil {
		return nil, fmt.Errorf("create api client: %w", err)
	}
	defer api.Close()

	var rdb *redis.Client
	if cfg.UsesRedis() {
		rdb, err = connectRedis(ctx, cfg.RedisOptions())
		if err != nil {
			return nil, err
		}
		defer rdb.Close()
		logger.Info().Str("address", cfg.Store.Redis.Address).Msg("Connected to Redis")
	}

	sink := progress.NewAsync(progress.Multi(
		progress.NewConsoleSink(progressOut),
		progress.NewLogSink(logging.NewLogger("progress")),
	), progressQueueSize)
	defer func() {
		sink.Close()
		if dropped := sink.Dropped(); dropped > 0 {
			logger.Warn().Int64("dropped", dropped).Msg("Progress events dropped")
		}
	}()

	crawler, err := pagination.New(api, cfg.CrawlConfig(rdb), pagination.WithProgress(sink))
	if err != nil {
		return nil, err
	}

	summary, err := crawler.Run(ctx)
	if err != nil {
		var probeErr *pagination.ProbeError
		if errors.As(err, &probeErr) {
			return nil, fmt.Errorf("cannot determine page count: %w", err)
		}
		return nil, err
	}
	return summary, nil
}

func connectRedis(ctx context.Context, opts *redis.Options) (*redis.Client, error) {
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}
	return rdb, nil
}
