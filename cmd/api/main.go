package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CalibrationMonitorAPI/internal/app"
	"CalibrationMonitorAPI/internal/config"
	"CalibrationMonitorAPI/internal/forecast"
	"CalibrationMonitorAPI/internal/handler"
	"CalibrationMonitorAPI/internal/logger"
	"CalibrationMonitorAPI/internal/mqtt"
	"CalibrationMonitorAPI/internal/notify"
	"CalibrationMonitorAPI/internal/server"
	"CalibrationMonitorAPI/internal/service"
	"CalibrationMonitorAPI/internal/websocket"
)

func main() {
	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// 2. Initialize Logger
	log, err := app.NewLogger(cfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer log.Close()

	if err := cfg.Validate(); err != nil {
		log.Fatal("Configuration validation failed: %v", err)
	}

	cfg.Print()
	log.Info("Starting Calibration Monitor API Server")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 3. Live feed
	hub := websocket.NewHub(log)
	go hub.Run(ctx)

	// 4. MQTT (optional)
	var mqttClient *mqtt.Client
	notifiers := notify.Multi{notify.NewFeedNotifier(hub)}
	events := service.EventSink{Hub: hub}

	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.NewClient(&cfg.MQTT, log)
		if err != nil {
			log.Fatal("Failed to create MQTT client: %v", err)
		}
		if err := mqttClient.Connect(); err != nil {
			log.Fatal("Failed to connect to MQTT broker: %v", err)
		}
		defer mqttClient.Disconnect()

		notifiers = append(notifiers, notify.NewMQTTNotifier(mqttClient, cfg.MQTT.NotifyTopic))
		events.Publisher = mqttClient
		events.Topic = cfg.MQTT.EventTopic
	} else {
		log.Warn("MQTT disabled, notifications go to the log and the live feed only")
		notifiers = append(notifiers, notify.NewLogNotifier(log.With("notify")))
	}

	// 5. Storage, services and forecasting
	a, err := app.Open(cfg, log, app.Wiring{Notifier: notifiers, Events: events})
	if err != nil {
		log.Fatal("%v", err)
	}
	defer a.Close()

	if err := a.DB.Health(ctx); err != nil {
		log.Fatal("Database health check failed: %v", err)
	}
	log.Info("Database (%s) connected successfully", a.DB.Driver())

	// 6. MQTT Subscriptions
	if mqttClient != nil {
		if err := mqttClient.Subscribe(cfg.MQTT.MeasurementTopic, a.MeasurementService.ProcessMessage); err != nil {
			log.Fatal("Failed to subscribe to measurement topic: %v", err)
		}
		log.Info("MQTT subscriptions active")
	}

	// 7. Scheduled batch forecasting
	if cfg.Forecast.BatchInterval > 0 {
		go runBatchSchedule(ctx, a.Batch, cfg.Forecast.BatchInterval, log)
	}

	// 8. Handlers
	var broker handler.BrokerChecker
	if mqttClient != nil {
		broker = mqttClient
	}
	healthHandler := handler.NewHealthHandler(a.DB, broker, log)
	measurementHandler := handler.NewMeasurementHandler(a.MeasurementService, log)
	alertHandler := handler.NewAlertHandler(a.AlertService, log)
	forecastHandler := handler.NewForecastHandler(a.Trainer, a.Server, a.Batch, log)

	// 9. Start HTTP Server
	srv := server.New(cfg, log)
	srv.RegisterHandlers(healthHandler, hub.ServeWs, measurementHandler, alertHandler, forecastHandler)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal("Server failed: %v", err)
		}
	}()

	log.Info("API server ready on http://%s:%d", cfg.Server.Host, cfg.Server.Port)

	// 10. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Warn("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error: %v", err)
	}
	stop()

	log.Info("Shutdown complete")
}

func runBatchSchedule(ctx context.Context, batch *forecast.BatchRunner, every time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	log.Info("Batch forecasting every %s", every)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := batch.Run(ctx, time.Now().UTC()); err != nil && ctx.Err() == nil {
				log.Error("Scheduled batch forecast failed: %v", err)
			}
		}
	}
}
