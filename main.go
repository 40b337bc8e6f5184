package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/victorjacobs/go-duco/bridge"
	"github.com/victorjacobs/go-duco/config"
	"github.com/victorjacobs/go-duco/controller"
	"github.com/victorjacobs/go-duco/duco"
	"github.com/victorjacobs/go-duco/homeassistant"
	"github.com/victorjacobs/go-duco/influx"
	"github.com/victorjacobs/go-duco/mdns"
	"github.com/victorjacobs/go-duco/metrics"
	"github.com/victorjacobs/go-duco/routes"
	"github.com/victorjacobs/go-duco/store"
)

func main() {
	configFile := "duco.yaml"
	if len(os.Args) > 1 {
		configFile = os.Args[1]
	}

	cfg, err := config.LoadConfiguration(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading configuration")
	}

	setupLogging(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	gateway := duco.NewGateway(&http.Client{}, m)

	var haClient *homeassistant.Client

	mqttOpts := cfg.Mqtt.ClientOptions()
	// Configure MQTT subscriptions in the ConnectHandler to make sure they are set up after reconnect
	mqttOpts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
		haClient.SubscribeToCommands(client)
	})

	mqttClient := mqtt.NewClient(mqttOpts)
	haClient = homeassistant.NewClient(mqttClient, log.With().Str("component", "homeassistant").Logger())

	if t := mqttClient.Connect(); t.Wait() && t.Error() != nil {
		log.Fatal().Err(t.Error()).Msg("MQTT connection error")
	}
	defer mqttClient.Disconnect(250)

	var host bridge.Host = haClient
	if cfg.InfluxDB.Enabled {
		recorder, err := influx.Connect(cfg.InfluxDB, log.With().Str("component", "influx").Logger())
		if err != nil {
			log.Fatal().Err(err).Msg("Error connecting to InfluxDB")
		}
		defer recorder.Close()

		host = recorder.WrapHost(haClient)
	}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening store")
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Error migrating store")
	}

	var finder bridge.Finder = mdns.NewFinder(cfg.Duco.BrowseTimeout)
	if cfg.Duco.Host != "" {
		finder = mdns.Static(cfg.Duco.Host)
	}

	b := bridge.New(bridge.Options{
		Finder: finder,
		NewClient: func(host string) bridge.DeviceClient {
			return duco.NewClient(host, gateway)
		},
		Host:     host,
		Store:    db,
		Registry: controller.NewRegistry(),
		Observer: m,
		Logger:   log.With().Str("component", "bridge").Logger(),
		Service:  cfg.Duco.Service,
		Prefix:   cfg.Duco.NamePrefix,
	})

	server := &http.Server{
		Addr:              cfg.Http.Address,
		Handler:           routes.New(b, registry),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go loopSafely(func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
		}

		time.Sleep(time.Second)
	})

	if err := b.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Bridge stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)

	log.Info().Msg("Stopped")
}

func setupLogging(cfg config.Logging) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
