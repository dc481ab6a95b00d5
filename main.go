package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/clearpath-assist/clearpath/internal/api"
	"github.com/clearpath-assist/clearpath/internal/config"
	"github.com/clearpath-assist/clearpath/internal/sched"
	"github.com/clearpath-assist/clearpath/internal/speech"
	"github.com/clearpath-assist/clearpath/internal/storage/sqlite"
	"github.com/clearpath-assist/clearpath/internal/timeutil"
	"github.com/clearpath-assist/clearpath/internal/vision/alert"
	"github.com/clearpath-assist/clearpath/internal/vision/track"
)

var (
	listen     = flag.String("listen", ":8080", "Listen address")
	dbFile     = flag.String("db", "clearpath.db", "SQLite database path")
	configFile = flag.String("config", "", "Tuning config path (defaults to the bundled config)")
	devMode    = flag.Bool("dev", false, "Run in dev mode: log utterances instead of speaking them")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	// Optional .env for local development; absence is not an error.
	if err := godotenv.Load(); err == nil {
		log.Print("loaded environment from .env")
	}

	var tuning *config.TuningConfig
	if *configFile != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	} else {
		tuning = config.MustLoadDefaultConfig()
	}
	if err := tuning.Validate(); err != nil {
		log.Fatalf("invalid tuning config: %v", err)
	}

	store, err := sqlite.Open(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer store.Close()

	clock := timeutil.RealClock{}
	tracker := track.NewTracker(track.TrackerConfigFromTuning(tuning))
	tracker.SetRemovalSink(store)

	var synth speech.Synthesizer = speech.NullSynthesizer{}
	if *devMode {
		synth = speech.LogSynthesizer{}
	}
	engine := alert.NewEngine(alert.EngineConfigFromTuning(tuning), synth, clock)

	hub := api.NewHub()

	// Persist and broadcast every announcement the engine queues.
	engine.SetAnnouncementSink(func(a alert.Announcement) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := store.RecordAnnouncement(ctx, a); err != nil {
			log.Printf("failed to record announcement: %v", err)
		}
		broadcastJSON(hub, "announcement", a)
	})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Evaluation loop: feed tracker snapshots to the alert engine.
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.NewEvaluator(tracker, engine, clock, tuning.GetEvaluateInterval()).Run(ctx)
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(tracker, engine, store, hub, clock).ServeMux()
		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		hub.CloseAll()
	}()

	wg.Wait()
	log.Println("shutdown complete")
	os.Exit(0)
}

func broadcastJSON(hub *api.Hub, eventType string, data interface{}) {
	msg, err := json.Marshal(map[string]interface{}{
		"type": eventType,
		"data": data,
	})
	if err != nil {
		log.Printf("failed to encode %s event: %v", eventType, err)
		return
	}
	hub.Broadcast(msg)
}
