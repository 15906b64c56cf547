package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/voyagen/streamvault/internal/cache"
	"github.com/voyagen/streamvault/internal/config"
	"github.com/voyagen/streamvault/internal/fetcher"
	"github.com/voyagen/streamvault/internal/models"
	"github.com/voyagen/streamvault/internal/progress"
	"github.com/voyagen/streamvault/internal/refresh"
	"github.com/voyagen/streamvault/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Optional config file path (YAML); else use env DATABASE_URL")
	oneshot := flag.Int64("refresh", 0, "Refresh one account by id and exit")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(lvl)
	}
	log := logrus.WithField("component", "streamvault")

	ctx := context.Background()

	// Migrations live next to the binary or in the working directory.
	absMigrations, err := filepath.Abs("migrations")
	if err != nil {
		absMigrations = "migrations"
	}
	if _, err := os.Stat(absMigrations); err != nil {
		if exe, e := os.Executable(); e == nil {
			absMigrations = filepath.Join(filepath.Dir(exe), "migrations")
		}
	}
	if err := store.RunMigrations(cfg.DatabaseURL, "file://"+absMigrations); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}

	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer pg.Close()

	var rds *cache.Redis
	var sink progress.Sink = progress.LogSink{}
	var locks refresh.Locker = localLocks{}
	if cfg.RedisURL != "" {
		rds, err = cache.New(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("redis connection failed")
		}
		defer rds.Close()
		if err := rds.Ping(ctx); err != nil {
			log.WithError(err).Fatal("redis ping failed")
		}
		sink = progress.NewRedisSink(rds)
		locks = cache.NewLocks(rds)
		log.Info("redis connected")
	} else {
		log.Info("redis disabled, using in-process lease and log progress")
	}

	m3u := &fetcher.M3USource{UserAgent: cfg.UserAgent, Timeout: cfg.FetchTimeout}
	runner := &refresh.Runner{
		Store: pg,
		Locks: locks,
		Sources: map[int16]fetcher.Source{
			models.AccountTypeM3U: m3u,
		},
		Sink:      sink,
		Log:       log,
		BatchSize: cfg.BatchSize,
		Workers:   cfg.Workers,
		Timeout:   cfg.RefreshTimeout,
		LeaseTTL:  cfg.LeaseTTL,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *oneshot != 0 {
		if _, err := runner.Refresh(ctx, *oneshot); err != nil && !errors.Is(err, cache.ErrLocked) {
			os.Exit(1)
		}
		return
	}

	go serveMetrics(ctx, cfg.MetricsAddr, log)
	if rds != nil && cfg.RefreshInterval > 0 {
		go runScheduler(ctx, pg, rds, cfg.RefreshInterval, log)
	}

	if rds != nil {
		runJobWorker(ctx, rds, runner, log)
	} else {
		<-ctx.Done()
	}
	log.Info("shutting down")
}

// localLocks is the single-process fallback lease used when Redis is not
// configured. One daemon process, so process-local exclusion is enough.
type localLocks struct{}

var localHeld = struct {
	sync.Mutex
	keys map[string]bool
}{keys: make(map[string]bool)}

func (localLocks) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	localHeld.Lock()
	defer localHeld.Unlock()
	if localHeld.keys[key] {
		return nil, cache.ErrLocked
	}
	localHeld.keys[key] = true
	return func() {
		localHeld.Lock()
		delete(localHeld.keys, key)
		localHeld.Unlock()
	}, nil
}

// runJobWorker consumes refresh jobs from the Redis queue until shutdown.
func runJobWorker(ctx context.Context, rds *cache.Redis, runner *refresh.Runner, log *logrus.Entry) {
	log.Info("refresh worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info("refresh worker stopping")
			return
		default:
		}

		job, err := cache.Dequeue(ctx, rds, cache.DefaultQueue, 5*time.Second)
		if err != nil {
			log.WithError(err).Warn("dequeue failed")
			time.Sleep(2 * time.Second)
			continue
		}
		if job == nil {
			continue // timeout, loop back to check ctx
		}

		log.WithFields(logrus.Fields{
			"account":   job.AccountID,
			"requested": job.Requested,
		}).Info("refresh job received")
		if _, err := runner.Refresh(ctx, job.AccountID); err != nil && !errors.Is(err, cache.ErrLocked) {
			log.WithError(err).WithField("account", job.AccountID).Error("refresh job failed")
		}
	}
}

// runScheduler periodically enqueues a refresh job for every active account.
func runScheduler(ctx context.Context, st store.Store, rds *cache.Redis, interval time.Duration, log *logrus.Entry) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.WithField("interval", interval).Info("refresh scheduler started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		accounts, err := st.ListActiveAccounts(ctx)
		if err != nil {
			log.WithError(err).Warn("list active accounts")
			continue
		}
		for _, a := range accounts {
			job := cache.RefreshJob{AccountID: a.ID, AccountName: a.Name, Requested: "schedule"}
			if err := cache.Enqueue(ctx, rds, cache.DefaultQueue, job); err != nil {
				log.WithError(err).WithField("account", a.ID).Warn("enqueue refresh")
			}
		}
		log.WithField("accounts", len(accounts)).Debug("scheduled refreshes")
	}
}

func serveMetrics(ctx context.Context, addr string, log *logrus.Entry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.WithField("addr", addr).Info("metrics listener started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("metrics listener failed")
	}
}
