// Command cometd-tail subscribes to Bayeux channels and logs every message
// it receives.
//
//	cometd-tail -url https://example.com/cometd /foo/bar '/baz/**'
//
// The transport is configured from BAYEUX_* environment variables (see
// gobayeux.Config). A .env file in the working directory is loaded first.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sigmavirus24/gobayeux/v3"
	"github.com/sigmavirus24/gobayeux/v3/extensions/bearer"
	"github.com/sigmavirus24/gobayeux/v3/extensions/replay"
)

type config struct {
	LogLevel        string        `env:"TAIL_LOG_LEVEL"         envDefault:"info"`
	EventBuffer     uint          `env:"TAIL_EVENT_BUFFER"      envDefault:"100"`
	MetricsAddress  string        `env:"TAIL_METRICS_ADDRESS"`
	AccessToken     string        `env:"TAIL_ACCESS_TOKEN"`
	TokenHostSuffix string        `env:"TAIL_TOKEN_HOST_SUFFIX"`
	Replay          bool          `env:"TAIL_REPLAY"            envDefault:"false"`
	ShutdownTimeout time.Duration `env:"TAIL_SHUTDOWN_TIMEOUT"  envDefault:"5s"`
}

func main() {
	logger := logrus.New()

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found, using environment variables")
	}

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse config: %v\n", err)
		os.Exit(1)
	}
	bayeuxCfg, err := gobayeux.ConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse config: %v\n", err)
		os.Exit(1)
	}

	flags := flag.NewFlagSet("cometd-tail", flag.ExitOnError)
	flags.StringVar(&bayeuxCfg.URL, "url", bayeuxCfg.URL, "the Bayeux server endpoint")
	flags.StringVar(&cfg.LogLevel, "loglevel", cfg.LogLevel, "the level to log at")
	flags.UintVar(&cfg.EventBuffer, "buffer", cfg.EventBuffer, "the number of message batches to buffer")
	flags.StringVar(&cfg.MetricsAddress, "metrics", cfg.MetricsAddress, "address to serve /metrics on, disabled when empty")
	flags.BoolVar(&cfg.Replay, "replay", cfg.Replay, "ask the server to replay missed events")
	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %q\n", err)
		os.Exit(1)
	}
	channels := make([]gobayeux.Channel, 0, flags.NArg())
	for _, name := range flags.Args() {
		channel := gobayeux.Channel(name)
		if !channel.IsValid() {
			fmt.Fprintf(os.Stderr, "invalid channel %q\n", name)
			os.Exit(1)
		}
		channels = append(channels, channel)
	}
	if len(channels) == 0 {
		fmt.Fprintln(os.Stderr, "at least one channel is required")
		os.Exit(1)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}
	logger.SetLevel(level)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts, err := bayeuxCfg.Options()
	if err != nil {
		logger.WithError(err).Fatal("invalid transport configuration")
	}
	opts = append(opts,
		gobayeux.WithLogger(logger),
		gobayeux.WithMetrics(gobayeux.NewMetrics(registry, "cometd_tail")),
	)
	if cfg.AccessToken != "" {
		opts = append(opts, gobayeux.WithTransportWrapper(func(next http.RoundTripper) http.RoundTripper {
			return bearer.New(cfg.AccessToken, cfg.TokenHostSuffix, next)
		}))
	}
	if cfg.Replay {
		opts = append(opts, gobayeux.WithExtension(replay.New()))
	}

	client, err := gobayeux.NewClient(bayeuxCfg.URL, opts...)
	if err != nil {
		logger.WithError(err).Fatal("error initializing client")
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return StopSignalHandler(ctx, cancel, logger)
	})

	if cfg.MetricsAddress != "" {
		g.Go(func() error {
			return serveMetrics(ctx, cfg.MetricsAddress, registry, logger)
		})
	}

	g.Go(func() error {
		defer cancel()
		return tail(ctx, client, channels, cfg, logger)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("cometd-tail terminated")
		os.Exit(2)
	}
}

func tail(ctx context.Context, client *gobayeux.Client, channels []gobayeux.Channel, cfg config, logger logrus.FieldLogger) error {
	output := make(chan []gobayeux.Message, cfg.EventBuffer)
	errc := client.Start(ctx)
	for _, channel := range channels {
		client.Subscribe(channel, output)
	}

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := client.Disconnect(shutdownCtx); err != nil {
				logger.WithError(err).Warn("disconnect failed")
			}
			return nil
		case err, ok := <-errc:
			if !ok {
				return client.Transport().Err()
			}
			logger.WithError(err).WithField("kind", gobayeux.KindOf(err)).Warn("error in bayeux client")
		case ms := <-output:
			for _, m := range ms {
				logger.WithFields(logrus.Fields{
					"channel": m.Channel,
					"data":    string(m.Data),
				}).Info("message received")
			}
		}
	}
}

func serveMetrics(ctx context.Context, address string, registry *prometheus.Registry, logger logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         address,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.WithField("address", address).Info("starting metrics server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// StopSignalHandler cancels ctx on SIGINT or SIGTERM
func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger logrus.FieldLogger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)
	select {
	case <-c:
		logger.Info("received shutdown signal")
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
