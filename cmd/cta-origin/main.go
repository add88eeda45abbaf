package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/technosupport/cta-poller/internal/cat"
	"github.com/technosupport/cta-poller/internal/config"
	"github.com/technosupport/cta-poller/internal/metrics"
	"github.com/technosupport/cta-poller/internal/origin"
	"github.com/technosupport/cta-poller/internal/ratelimit"
)

const demoSegments = 10

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Configuration (yaml, then env)
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("[ERROR] Config load failed: %v", err)
	}
	oc := cfg.Origin

	collector := metrics.NewCollector()

	// 2. Segment source
	var store origin.SegmentStore
	if oc.Root != "" {
		dirStore, err := origin.NewDirStore(oc.Root, oc.SegmentCacheSize)
		if err != nil {
			log.Fatalf("[ERROR] Segment store: %v", err)
		}
		dirStore.OnChange(collector.Origin.SetSegments)
		dirStore.Watch(ctx, 10*time.Second)
		store = dirStore
		log.Printf("[INFO] Serving segments from %s", oc.Root)
	} else {
		store = origin.DemoStore(demoSegments)
		log.Printf("[INFO] No root configured, serving %d demo segments", demoSegments)
	}
	collector.Origin.SetSegments(len(store.Segments()))

	// 3. Renewal signer
	tokens, err := cat.NewManager(oc.Key, oc.Issuer)
	if err != nil {
		log.Fatalf("[ERROR] Token manager: %v", err)
	}

	// 4. Optional rate limiting
	var limiter *ratelimit.Limiter
	if oc.RedisAddr != "" && oc.RateLimit.Enabled() {
		rdb := redis.NewClient(&redis.Options{Addr: oc.RedisAddr})
		defer rdb.Close()
		limiter = ratelimit.NewLimiter(rdb, "cta-origin")
		log.Printf("[INFO] Rate limiting %d req per %v via %s", oc.RateLimit.Rate, oc.RateLimit.Window, oc.RedisAddr)
	}

	handler := origin.NewHandler(origin.Config{
		Store:          store,
		Tokens:         tokens,
		TTL:            oc.TTL,
		Renew:          oc.Renew,
		PlaylistWindow: oc.PlaylistWindow,
		TargetDuration: oc.TargetDuration,
		Limiter:        limiter,
		RateLimit:      oc.RateLimit,
		Metrics:        collector.Origin,
	})

	// 5. Start Server
	srv := &http.Server{
		Addr:              ":" + oc.Port,
		Handler:           origin.NewRouter(handler, collector.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("cta-origin listening on :%s", oc.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// 6. Graceful Shutdown
	<-ctx.Done()
	log.Printf("[INFO] Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[ERROR] Shutdown: %v", err)
	}
}
