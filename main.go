package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/liamvmurphy/pokestock-sub001/api"
	"github.com/liamvmurphy/pokestock-sub001/browser"
	"github.com/liamvmurphy/pokestock-sub001/classifier"
	"github.com/liamvmurphy/pokestock-sub001/config"
	"github.com/liamvmurphy/pokestock-sub001/extractor"
	"github.com/liamvmurphy/pokestock-sub001/httputil"
	"github.com/liamvmurphy/pokestock-sub001/logging"
	"github.com/liamvmurphy/pokestock-sub001/models"
	"github.com/liamvmurphy/pokestock-sub001/monitor"
	"github.com/liamvmurphy/pokestock-sub001/scheduler"
	"github.com/liamvmurphy/pokestock-sub001/services"
	"github.com/liamvmurphy/pokestock-sub001/storage"
	"github.com/liamvmurphy/pokestock-sub001/workers"
)

var (
	monitorNow = flag.Bool("monitor", false, "Run one monitoring pass and exit")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	logFile, err := logging.Setup("daemon.log")
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting pokestock monitor...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Loaded %d search terms", len(cfg.Monitor.SearchTerms))

	clients := httputil.NewClients(&cfg.Proxy)

	ctx := context.Background()

	pgStore, err := storage.NewPostgresStore(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer pgStore.Close()
	log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.PostgresURL))

	sqliteStore, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer sqliteStore.Close()
	log.Printf("SQLite database: %s", cfg.DBPath)

	sheetsStore := storage.NewSheetsStore(&cfg.Sheets, clients.API)
	if !sheetsStore.Configured() {
		log.Println("Sheets append not configured, listings go to Postgres only")
	}

	listingService := services.NewListingService(pgStore, sheetsStore)

	browserManager := browser.NewManager(cfg.Browser)
	defer browserManager.Shutdown()

	classifierClient := classifier.New(cfg.Classifier, clients.API)

	orchestrator := monitor.New(
		&browserSessions{browserManager},
		extractor.New(),
		classifierClient,
		listingService,
		cfg.Monitor.SearchTerms,
		monitor.WithRecorder(sqliteStore),
		monitor.WithLogFunc(func(level models.LogLevel, runID *uuid.UUID, format string, args ...any) {
			message := fmt.Sprintf(format, args...)
			log.Println(message)
			if err := sqliteStore.Log(runID, level, message, "monitor"); err != nil {
				log.Printf("Warning: write ops log: %v", err)
			}
		}),
	)

	if *monitorNow {
		log.Println("Running monitoring pass...")
		if err := orchestrator.RunNow(ctx); err != nil {
			log.Fatalf("Monitoring pass failed: %v", err)
		}
		snapshot := orchestrator.Status()
		log.Printf("Monitoring pass complete: %d persisted, %d errors", snapshot.CompletedCount, snapshot.ErrorCount)
		return
	}

	// Daemon mode
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := scheduler.New(cfg, orchestrator, sqliteStore)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	workerLog := func(level models.LogLevel, source, message string) {
		if err := sqliteStore.Log(nil, level, message, source); err != nil {
			log.Printf("Warning: write ops log: %v", err)
		}
	}

	availabilityWorker := workers.NewAvailabilityWorker(pgStore, clients.Scraping)
	availabilityWorker.SetLogger(workerLog)
	go availabilityWorker.Run(ctx, 24*time.Hour, 20, 30*time.Minute)
	log.Println("Availability worker started")

	priceCheckWorker := workers.NewPriceCheckWorker(pgStore, clients.Scraping, cfg.PriceGuide)
	priceCheckWorker.SetLogger(workerLog)
	go priceCheckWorker.Run(ctx, 10, 15*time.Minute)
	log.Println("Price check worker started")

	var screenshotWorker *workers.ScreenshotWorker
	if cfg.S3.Bucket != "" {
		uploader, err := storage.NewS3Uploader(ctx, cfg.S3)
		if err != nil {
			log.Printf("Warning: S3 uploader unavailable: %v", err)
		} else {
			screenshotWorker = workers.NewScreenshotWorker(pgStore, uploader)
			screenshotWorker.SetLogger(workerLog)
			go screenshotWorker.Run(ctx, 20, 2*time.Minute)
			log.Println("Screenshot worker started")
		}
	}

	if screenshotWorker != nil {
		sched.SetWorkers(availabilityWorker, priceCheckWorker, screenshotWorker)
	} else {
		sched.SetWorkers(availabilityWorker, priceCheckWorker, nil)
	}

	handler := api.NewHandler(orchestrator, listingService, pgStore, sqliteStore)
	router := api.SetupRouter(handler)
	server := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	go func() {
		log.Printf("HTTP API listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	orchestrator.Stop()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}

	log.Println("Goodbye!")
}

// browserSessions adapts the concrete browser manager to the orchestrator's
// session interfaces.
type browserSessions struct {
	manager *browser.Manager
}

func (b *browserSessions) Acquire() (monitor.Session, error) {
	session, err := b.manager.Acquire()
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (b *browserSessions) Release(s monitor.Session) {
	if session, ok := s.(*browser.Session); ok {
		b.manager.Release(session)
	}
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
