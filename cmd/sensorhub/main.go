package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fkusi/sensorhub/internal/adapter"
	"github.com/fkusi/sensorhub/internal/alert"
	"github.com/fkusi/sensorhub/internal/api"
	"github.com/fkusi/sensorhub/internal/config"
	"github.com/fkusi/sensorhub/internal/logger"
	"github.com/fkusi/sensorhub/internal/manager"
	"github.com/fkusi/sensorhub/internal/powermode"
	"github.com/fkusi/sensorhub/internal/registry"
	"github.com/fkusi/sensorhub/internal/relay"
	"github.com/fkusi/sensorhub/internal/scheduler"
	"github.com/fkusi/sensorhub/internal/sensor"
	"github.com/fkusi/sensorhub/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	if !cfg.Debug && !cfg.Verbose {
		// Debug and verbose flags outrank the configured level.
		if level, err := logger.ParseLevel(cfg.LogLevel); err == nil {
			logger.SetLogLevel(level)
		}
	}
	logger.Debug().Msg("Config loaded")

	if err := run(cfg); err != nil {
		logger.Fatal().Err(err).Msg("sensorhub failed")
	}
}

func run(cfg *config.Config) error {
	reg := registry.New(cfg.StorePath)
	if err := reg.Load(); err != nil {
		return err
	}
	logger.Info().Int("sensors", reg.Count()).Str("store", cfg.StorePath).Msg("Store loaded")

	recorder, err := newRecorder(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := recorder.Close(); err != nil {
			logger.Error().Err(err).Msg("Telemetry close failed")
		}
	}()

	uploader := adapter.NewUploader(cfg.UploadURL, time.Duration(cfg.UploadTimeout)*time.Second)
	adapters := adapter.Registry{
		sensor.TypePurpleAir:    adapter.NewPurpleAir(uploader),
		sensor.TypeTempest:      adapter.NewTempest(cfg.TempestWSURL, cfg.TempestToken, uploader),
		sensor.TypeWaterQuality: adapter.NewWaterQuality(cfg.UbidotsURL, cfg.UbidotsToken, uploader),
		sensor.TypeVoltageMeter: adapter.NewVoltageMeter(relay.DialESP32, uploader),
	}

	sink := newAlertSink(cfg)
	gate := alert.NewGate(sink, time.Duration(cfg.AlertCooldown)*time.Second)

	sched := scheduler.New()
	ctrl := powermode.NewController(adapters, relay.DialESP32)
	m := manager.New(reg, sched, ctrl, gate, recorder, relay.DialESP32, cfg.PollInterval)

	m.Resume()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewRouter(m),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("listen", cfg.Listen).Msg("Control surface listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		m.Shutdown()
		return err
	case <-ctx.Done():
		logger.Info().Msg("Received termination signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP shutdown failed")
	}

	m.Shutdown()
	if closer, ok := sink.(*alert.MQTTSink); ok {
		closer.Close()
	}

	logger.Info().Msg("Exiting...")
	return nil
}

func newRecorder(cfg *config.Config) (telemetry.Recorder, error) {
	if !cfg.Telemetry {
		return telemetry.Noop{}, nil
	}
	return telemetry.NewRepository(telemetry.DefaultConfig(cfg.TelemetryDB))
}

// newAlertSink connects to the MQTT broker when one is configured. A
// broker that cannot be reached at startup downgrades alerting to a
// no-op rather than keeping the orchestrator down.
func newAlertSink(cfg *config.Config) alert.Sink {
	if cfg.MQTTBroker == "" {
		logger.Info().Msg("No MQTT broker configured, alerts disabled")
		return alert.NoopSink{}
	}

	sink, err := alert.NewMQTTSink(alert.MQTTOptions{
		Broker:   cfg.MQTTBroker,
		Topic:    cfg.MQTTTopic,
		ClientID: cfg.MQTTClientID,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
	})
	if err != nil {
		logger.Error().Err(err).Str("broker", cfg.MQTTBroker).Msg("MQTT connect failed, alerts disabled")
		return alert.NoopSink{}
	}

	logger.Info().Str("broker", cfg.MQTTBroker).Str("topic", cfg.MQTTTopic).Msg("Alert sink connected")
	return sink
}
