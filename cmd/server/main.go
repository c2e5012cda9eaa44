package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"lineartv/internal/ads"
	"lineartv/internal/catalog"
	"lineartv/internal/channel"
	"lineartv/internal/concat"
	"lineartv/internal/platform/config"
	"lineartv/internal/platform/logger"
	"lineartv/internal/platform/metrics"
	"lineartv/internal/schedule"
	"lineartv/internal/server"
	"lineartv/internal/stream"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	baseURL := config.GetEnv("BASE_URL", "http://localhost:"+port)
	channelsFile := config.GetEnv("CHANNELS_FILE", "channels.yaml")
	dataDir := config.GetEnv("DATA_DIR", "data")
	mediaDir := config.GetEnv("MEDIA_DIR", filepath.Join(dataDir, "stream"))
	ffmpegPath := config.GetEnv("FFMPEG_PATH", "ffmpeg")
	segmentSeconds := config.GetEnvInt("SEGMENT_SECONDS", 6)
	windowSize := config.GetEnvInt("SLIDING_WINDOW_SIZE", 6)
	lookahead := config.GetEnvDuration("SCHEDULE_LOOKAHEAD", time.Hour)
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)

	cfg, err := config.LoadFile(channelsFile)
	if err != nil {
		log.Error("channel config unusable", "path", channelsFile, "error", err.Error())
		os.Exit(1)
	}

	met := metrics.New()
	gateway := catalog.NewClient(cfg.Catalog.URL, cfg.Catalog.APIKey, log)
	inventory := ads.ScanInventory(cfg.Ads.Directory, cfg.Ads.Extensions, cfg.Ads.DefaultDuration, log)

	store, err := schedule.NewStore(filepath.Join(dataDir, "schedules"))
	if err != nil {
		log.Error("schedule store unusable", "error", err.Error())
		os.Exit(1)
	}

	runners := make([]*channel.Runner, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		chLog := logger.ForChannel(log, ch.ID)
		rotator := ads.NewRotator(ch.Rotation.Policy, inventory, ch.Rotation.Weights,
			filepath.Join(dataDir, "rotation", ch.ID+".json"), chLog)
		playlist := concat.PlaylistPath(filepath.Join(dataDir, "playlists"), ch.ID)

		channelID := ch.ID
		sup := stream.NewSupervisor(stream.Options{
			ChannelID:      ch.ID,
			BinaryPath:     ffmpegPath,
			PlaylistPath:   playlist,
			SegmentDir:     filepath.Join(mediaDir, ch.ID),
			SegmentSeconds: segmentSeconds,
			WindowSize:     windowSize,
			OnRestart:      func() { met.IncTranscoderRestarts(channelID) },
		}, chLog)

		runners = append(runners, channel.NewRunner(channel.RunnerConfig{
			Channel:      ch,
			Generator:    schedule.NewGenerator(ch, gateway, rotator, chLog),
			Store:        store,
			Supervisor:   sup,
			PlaylistPath: playlist,
			Log:          chLog,
			Metrics:      met,
			Lookahead:    lookahead,
		}))
	}

	pool := channel.NewPool(runners, log)
	h := server.NewHandler(pool, cfg.Channels, baseURL, mediaDir, log, met)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Mount("/", h.Routes())

	ctx, cancel := context.WithCancel(context.Background())
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		pool.Run(ctx)
	}()

	srv := &http.Server{Addr: ":" + port, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("station starting",
		"port", port,
		"channels", len(cfg.Channels),
		"ads_in_inventory", len(inventory),
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, stopping channels and draining connections")

	cancel()
	select {
	case <-poolDone:
	case <-time.After(shutdownTimeout):
		log.Warn("channels did not stop in time")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("station stopped")
}
