// Command contextd runs the context classification daemon: it ingests GPS,
// motion and pressure feeds, classifies Inside/Outside/Vehicle in real time,
// gates UV dose sessions on the result, and serves the HTTP API.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/daylight-data/exposure.report/internal/api"
	"github.com/daylight-data/exposure.report/internal/config"
	"github.com/daylight-data/exposure.report/internal/db"
	"github.com/daylight-data/exposure.report/internal/feed"
	"github.com/daylight-data/exposure.report/internal/footprint"
	"github.com/daylight-data/exposure.report/internal/monitoring"
	"github.com/daylight-data/exposure.report/internal/sense"
	"github.com/daylight-data/exposure.report/internal/session"
	"github.com/daylight-data/exposure.report/internal/timeutil"
	"github.com/daylight-data/exposure.report/internal/version"
)

var (
	listen     = flag.String("listen", ":8080", "Listen address")
	dbPath     = flag.String("db", "exposure.db", "Path to the sqlite database")
	tuningPath = flag.String("tuning", "", "Path to a JSON tuning config (defaults apply when empty)")
	footprints = flag.String("footprints", "", "Path to the building footprint dataset (JSON)")
	serialPort = flag.String("serial", "", "Serial GPS receiver to read NMEA from (e.g. /dev/ttyACM0)")
	baud       = flag.Int("baud", 9600, "Serial baud rate")
	tracePath  = flag.String("trace", "", "Recorded trace to replay instead of a live receiver")
	traceSpeed = flag.Float64("trace-speed", 1.0, "Trace playback multiplier (0 replays with no delays)")
	debugLogs  = flag.Bool("debug", false, "Enable debug logging")

	cacheSize = flag.Int("footprint-cache", 4096, "Footprint cache capacity")
	cacheTTL  = flag.Duration("footprint-ttl", 5*time.Minute, "Footprint cache soft TTL")
)

// offlineOracle stands in when no footprint dataset is configured; the
// classifier runs on GPS quality alone.
type offlineOracle struct{}

func (offlineOracle) Lookup(ctx context.Context, lat, lon float64) (footprint.Proximity, error) {
	return footprint.Proximity{}, footprint.ErrUnavailable
}

func main() {
	flag.Parse()
	monitoring.SetDebug(*debugLogs)

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	monitoring.Logf("contextd %s (%s)", version.Version, version.GitSHA)

	cfg := &config.TuningConfig{}
	if *tuningPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*tuningPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	store, err := db.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer store.Close()

	var oracle footprint.Oracle = offlineOracle{}
	if *footprints != "" {
		index, err := footprint.LoadIndex(*footprints)
		if err != nil {
			log.Fatalf("failed to load footprints: %v", err)
		}
		oracle = footprint.NewCached(index, *cacheSize, *cacheTTL)
	} else {
		monitoring.Logf("contextd: no footprint dataset configured, classifying on GPS quality alone")
	}

	clock := timeutil.SystemClock{}
	gate := session.NewGate(cfg, clock, store, store)
	pipeline := sense.NewPipeline(cfg, clock, oracle)
	engine := sense.NewEngine(cfg, clock, pipeline, gate)
	api.RestoreOverride(store, engine, clock.Now())

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Run(ctx)
	}()

	for _, src := range buildSources(clock) {
		src := src
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := feed.Pump(ctx, src, engine.Samples()); err != nil && err != context.Canceled {
				monitoring.Logf("contextd: source %s stopped: %v", src.Name(), err)
			}
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		store.AttachAdminRoutes(mux)
		apiMux := api.NewServer(engine, gate, store, clock).ServeMux()
		mux.Handle("/api/", apiMux)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		monitoring.Logf("contextd: shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("contextd: HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()
	monitoring.Logf("contextd: graceful shutdown complete")
}

func buildSources(clock timeutil.Clock) []feed.Source {
	var sources []feed.Source
	if *serialPort != "" {
		src, err := feed.OpenSerialGPS(*serialPort, *baud, clock)
		if err != nil {
			log.Fatalf("failed to open serial GPS: %v", err)
		}
		sources = append(sources, src)
	}
	if *tracePath != "" {
		src, closer, err := feed.OpenReplay(*tracePath, *traceSpeed)
		if err != nil {
			log.Fatalf("failed to open trace: %v", err)
		}
		_ = closer // closed by process exit; replay reads to EOF first
		sources = append(sources, src)
	}
	if len(sources) == 0 {
		monitoring.Logf("contextd: no feed sources configured; only the API is live")
	}
	return sources
}
