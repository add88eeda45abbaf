package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/technosupport/cta-poller/internal/binding"
	"github.com/technosupport/cta-poller/internal/config"
	"github.com/technosupport/cta-poller/internal/metrics"
	"github.com/technosupport/cta-poller/internal/report"
	"github.com/technosupport/cta-poller/internal/worker"
)

var errMissingURL = errors.New("--url is required")

type options struct {
	configPath    string
	key           string
	ttl           uint64
	tokenType     binding.Transport
	url           string
	issuer        string
	maxIterations int
	sleepMs       int64
	strict        bool
	metricsAddr   string
	natsURL       string
	natsSubject   string
}

func newRootCmd() *cobra.Command {
	defaults := config.Default()
	o := &options{tokenType: defaults.Poller.TokenType}

	cmd := &cobra.Command{
		Use:   "ctapoll",
		Short: "Poll a CAT-protected HLS stream like a player would",
		Long: `ctapoll fetches an HLS playlist and repeatedly requests its first segment,
presenting a Common Access Token on every request.

Examples:
  ctapoll --url https://cdn.example.com/live/index.m3u8
  ctapoll --url https://cdn.example.com/live/index.m3u8 --token-type header --ttl 60`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(o.configPath)
			if err != nil {
				return err
			}
			o.apply(cfg, cmd.Flags().Changed)
			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.configPath, "config", "", "yaml config file (default config/default.yaml or $CTA_CONFIG)")
	f.StringVar(&o.key, "key", defaults.Poller.Key, "hex encoded HMAC key")
	f.Uint64Var(&o.ttl, "ttl", defaults.Poller.TTL, "token lifetime in seconds")
	f.Var(&o.tokenType, "token-type", "token transport: header, cookie or cookie-as-query")
	f.StringVar(&o.url, "url", "", "playlist URL (required)")
	f.StringVar(&o.issuer, "issuer", defaults.Poller.Issuer, "token issuer")
	f.IntVar(&o.maxIterations, "max-iterations", defaults.Poller.MaxIterations, "number of segment requests")
	f.Int64Var(&o.sleepMs, "sleep", defaults.Poller.SleepMs, "delay between segment requests in milliseconds")
	f.BoolVar(&o.strict, "strict-content-length", false, "fail when a segment response has no Content-Length")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.StringVar(&o.natsURL, "nats-url", "", "publish poll events to this NATS server")
	f.StringVar(&o.natsSubject, "nats-subject", report.DefaultSubject, "NATS subject for poll events")

	return cmd
}

// apply lets explicitly set flags win over file and environment values.
func (o *options) apply(cfg *config.Config, changed func(string) bool) {
	if changed("key") {
		cfg.Poller.Key = o.key
	}
	if changed("ttl") {
		cfg.Poller.TTL = o.ttl
	}
	if changed("token-type") {
		cfg.Poller.TokenType = o.tokenType
	}
	if changed("url") {
		cfg.Poller.URL = o.url
	}
	if changed("issuer") {
		cfg.Poller.Issuer = o.issuer
	}
	if changed("max-iterations") {
		cfg.Poller.MaxIterations = o.maxIterations
	}
	if changed("sleep") {
		cfg.Poller.SleepMs = o.sleepMs
	}
	if changed("strict-content-length") {
		cfg.Poller.StrictContentLength = o.strict
	}
	if changed("metrics-addr") {
		cfg.Metrics.Addr = o.metricsAddr
	}
	if changed("nats-url") {
		cfg.Report.NatsURL = o.natsURL
	}
	if changed("nats-subject") || cfg.Report.NatsSubject == "" {
		cfg.Report.NatsSubject = o.natsSubject
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	if cfg.Poller.URL == "" {
		return errMissingURL
	}

	collector := metrics.NewCollector()
	opts := []worker.Option{worker.WithMetrics(collector.Poller)}

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: collector.Handler()}
		go func() {
			log.Printf("[INFO] Metrics listening on %s", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("[ERROR] Metrics server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if cfg.Report.NatsURL != "" {
		nc, err := report.Connect(cfg.Report.NatsURL, "ctapoll")
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Drain()
		// no retries: a slow broker must not stretch the polling interval
		opts = append(opts, worker.WithReporter(report.NewNATSPublisher(nc, cfg.Report.NatsSubject, 0)))
	}

	w, err := worker.New(cfg.Poller.Worker(), opts...)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}
