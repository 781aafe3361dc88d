package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ecosimlab/predictor/config"
	"github.com/ecosimlab/predictor/internal/api"
	"github.com/ecosimlab/predictor/internal/database"
	"github.com/ecosimlab/predictor/internal/memstore"
	"github.com/ecosimlab/predictor/internal/mlclient"
	"github.com/ecosimlab/predictor/internal/notify"
	"github.com/ecosimlab/predictor/internal/predict"
	"github.com/ecosimlab/predictor/internal/sim"
	"github.com/ecosimlab/predictor/models"
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, relying on actual environment variables")
	}
}

// store is the combined persistence surface both backends provide.
type store interface {
	models.SnapshotSource
	models.SnapshotWriter
	models.PredictionStore
	PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Loading configuration failed")
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl)

	var st store
	if cfg.DatabaseConfigured() {
		db, err := database.New(database.ConnectionParams{
			Host:     cfg.DBHost,
			Port:     strconv.Itoa(cfg.DBPort),
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			DBName:   cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Connecting to database failed")
		}
		defer db.Close()
		st = db
		log.Info().Str("host", cfg.DBHost).Msg("Using postgres store")
	} else {
		st = memstore.New()
		log.Warn().Msg("No database configured, using in-memory store")
	}

	var model models.ModelClient
	if cfg.ModelServiceURL != "" {
		model = mlclient.New(cfg.ModelServiceURL, time.Duration(cfg.ModelTimeout)*time.Second)
		log.Info().Str("url", cfg.ModelServiceURL).Msg("Delegated model configured")
	} else {
		log.Info().Msg("No delegated model configured, heuristics only")
	}

	sinks := []models.EventSink{notify.NewLogSink()}
	if cfg.RedisAddr != "" {
		redisSink := notify.NewRedisSink(cfg.RedisAddr, cfg.RedisChannel)
		defer redisSink.Close()
		sinks = append(sinks, redisSink)
		log.Info().Str("addr", cfg.RedisAddr).Msg("Redis event sink configured")
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		telegramSink, err := notify.NewTelegramSink(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Error().Err(err).Msg("Telegram sink unavailable")
		} else {
			sinks = append(sinks, telegramSink)
			log.Info().Msg("Telegram alert sink configured")
		}
	}

	engine := predict.New(predict.Options{
		Snapshots: st,
		Store:     st,
		Model:     model,
		Events:    notify.NewMultiSink(sinks...),
	})

	handler := api.NewHandler(engine, st, st, sim.NewRegistry(st))
	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go purgeLoop(ctx, st, cfg.RetentionDays)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
	}
}

// purgeLoop deletes prediction records past the retention window, hourly.
func purgeLoop(ctx context.Context, st store, retentionDays int) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
			purged, err := st.PurgeExpired(ctx, cutoff)
			if err != nil {
				log.Error().Err(err).Msg("Retention purge failed")
				continue
			}
			if purged > 0 {
				log.Info().Int64("purged", purged).Msg("Expired predictions removed")
			}
		}
	}
}
