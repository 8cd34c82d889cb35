package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/agentworkforce/genrelay/internal/apirouter"
	"github.com/agentworkforce/genrelay/internal/config"
	"github.com/agentworkforce/genrelay/internal/genrelay"
	"github.com/agentworkforce/genrelay/internal/histsync"
	"github.com/agentworkforce/genrelay/internal/kvstore"
)

func main() {
	configPath := flag.String("config", strings.TrimSpace(os.Getenv("GENRELAY_CONFIG")), "config file path")
	userID := flag.String("user", strings.TrimSpace(os.Getenv("GENRELAY_USER")), "user scope for queues and sync")
	probe := flag.Bool("probe", false, "probe backend candidates and exit")
	cleanup := flag.Bool("cleanup", false, "run one age cleanup pass and exit")
	once := flag.Bool("once", false, "run one sync cycle and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, err := kvstore.BuildAdapterFromDSN(cfg.StorageDSN)
	if err != nil {
		log.Fatalf("failed to initialize storage adapter: %v", err)
	}
	defer func() {
		_ = kvstore.Close(store)
	}()

	router := apirouter.New(apirouter.Options{
		Env: apirouter.Env{
			PrimaryBase:       cfg.PrimaryBase,
			SecondaryBase:     cfg.SecondaryBase,
			LocalFallbackBase: cfg.LocalFallbackBase,
		},
		Page:           apirouter.PageContext{Scheme: cfg.PageScheme, Host: cfg.PageHost},
		Store:          store,
		HTTPClient:     &http.Client{},
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay.Std(),
		RequestTimeout: cfg.RequestTimeout.Std(),
		ProbeTimeout:   cfg.ProbeTimeout.Std(),
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *probe {
		healthy, report := router.ProbeAll(rootCtx)
		for _, result := range report {
			if result.OK {
				log.Printf("probe %s: ok (status %d)", result.Base, result.Status)
				continue
			}
			log.Printf("probe %s: failed status=%d error=%s", result.Base, result.Status, result.Error)
		}
		if healthy == nil {
			log.Fatalf("no healthy backend among %d candidates", len(report))
		}
		return
	}

	queues := genrelay.NewQueueStore(store, cfg.QueueMaxLength)

	if *cleanup {
		result := queues.CleanupByAge(*userID, cfg.MaxAgeDays)
		log.Printf("cleanup: drafts=%d offline=%d maxAgeDays=%d", result.Drafts, result.Offline, result.MaxAgeDays)
		return
	}

	validator, err := genrelay.NewEntryValidator()
	if err != nil {
		log.Fatalf("failed to compile entry schema: %v", err)
	}

	var direct genrelay.GenerationStore
	if strings.TrimSpace(cfg.GenerationsDSN) != "" {
		pgStore, err := genrelay.NewPostgresGenerationStore(cfg.GenerationsDSN)
		if err != nil {
			log.Fatalf("failed to initialize generation store: %v", err)
		}
		defer func() {
			_ = pgStore.Close()
		}()
		direct = pgStore
	}

	saver := genrelay.NewSaver(genrelay.SaverOptions{
		Queues:    queues,
		Router:    router,
		Direct:    direct,
		Token:     tokenFromEnv,
		Validator: validator,
		SavePath:  cfg.SavePath,
		Logger:    log.Default(),
	})

	watchPath := ""
	if fileAdapter, ok := store.(*kvstore.JSONFileAdapter); ok {
		watchPath = fileAdapter.Path()
	}
	syncer, err := histsync.NewSyncer(histsync.Options{
		Saver:      saver,
		Queues:     queues,
		UserID:     *userID,
		MaxAgeDays: cfg.MaxAgeDays,
		Schedule:   cfg.SyncSchedule,
		WatchPath:  watchPath,
		Logger:     log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to initialize syncer: %v", err)
	}
	defer func() {
		_ = syncer.Close()
	}()

	result := syncer.RunCycle(rootCtx)
	log.Printf("sync cycle: synced=%d remaining=%d removed=%d", result.Synced, result.Remaining, result.Removed)
	if *once {
		return
	}

	if err := syncer.Start(); err != nil {
		log.Fatalf("failed to start syncer: %v", err)
	}
	log.Printf("genrelay sync running (schedule %s)", cfg.SyncSchedule)
	<-rootCtx.Done()
	log.Printf("genrelay stopping: %v", rootCtx.Err())
}

func tokenFromEnv(ctx context.Context) (string, error) {
	return strings.TrimSpace(os.Getenv("GENRELAY_TOKEN")), nil
}
