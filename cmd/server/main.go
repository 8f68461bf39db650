package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/openboatworks/nmea_bridge_simulator/internal/api"
	"github.com/openboatworks/nmea_bridge_simulator/internal/codec"
	"github.com/openboatworks/nmea_bridge_simulator/internal/logging"
	"github.com/openboatworks/nmea_bridge_simulator/internal/models"
	"github.com/openboatworks/nmea_bridge_simulator/internal/queue"
	"github.com/openboatworks/nmea_bridge_simulator/internal/recorder"
	"github.com/openboatworks/nmea_bridge_simulator/internal/scenario"
	"github.com/openboatworks/nmea_bridge_simulator/internal/source"
	"github.com/openboatworks/nmea_bridge_simulator/internal/store"
	"github.com/openboatworks/nmea_bridge_simulator/internal/transport"
)

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Load .env file if it exists (ignore errors for local development)
	_ = godotenv.Load()

	bridge := flag.String("bridge", getEnv("BRIDGE_MODE", "nmea0183"), "Wire encoding: nmea0183 or nmea2000")
	tcpPort := flag.String("tcp-port", getEnv("TCP_PORT", "10110"), "TCP stream port")
	udpPort := flag.String("udp-port", getEnv("UDP_PORT", "10111"), "UDP stream port")
	wsPort := flag.String("ws-port", getEnv("WS_PORT", "8080"), "WebSocket stream port")
	apiPort := flag.String("api-port", getEnv("API_PORT", "3000"), "Control plane HTTP port")

	mode := flag.String("mode", getEnv("SOURCE_MODE", "scenario"), "Initial data source: live, file, scenario or none")
	scenarioName := flag.String("scenario", getEnv("SCENARIO", "basic-navigation"), "Scenario to start in scenario mode")
	speed := flag.Float64("speed", 1.0, "Scenario time multiplier")
	loop := flag.Bool("loop", true, "Restart scenario or capture when it completes")
	file := flag.String("file", "", "Capture file to replay in file mode")
	rate := flag.Float64("rate", 1.0, "Playback rate multiplier in file mode")

	liveHost := flag.String("live-host", getEnv("LIVE_HOST", ""), "Upstream bridge host in live mode")
	livePort := flag.Int("live-port", 10110, "Upstream bridge port in live mode")
	liveDevice := flag.String("live-device", getEnv("LIVE_DEVICE", ""), "Upstream serial device in live mode")
	liveBaud := flag.Int("live-baud", 4800, "Serial baud rate in live mode")

	scenariosDir := flag.String("scenarios-dir", getEnv("SCENARIOS_DIR", "scenarios"), "Scenario catalogue directory")
	db := flag.String("db", getEnv("DATABASE_URL", "sessions.db"), "Session store: SQLite path or postgres:// URL")
	idleTimeout := flag.Duration("idle-timeout", 5*time.Minute, "Drop clients idle longer than this (0 disables)")
	record := flag.Bool("record", false, "Start capturing the broadcast stream immediately")
	flag.Parse()

	bridgeMode, err := models.ParseBridgeMode(*bridge)
	if err != nil {
		log.Fatalf("Invalid -bridge: %v", err)
	}

	logStore := logging.NewLogStore(10000)

	sessionStore, err := store.NewSessionStore(*db)
	if err != nil {
		log.Fatalf("Failed to initialize session store: %v", err)
	}
	defer sessionStore.Close()

	rec := recorder.NewRecorder(100000)
	if *record {
		rec.Start()
	}

	hub := transport.NewHub(256, *idleTimeout, logStore)
	router := source.NewRouter(bridgeMode, hub, rec, logStore)

	// Inbound commands from all three transports funnel through one queue
	// so the active source applies them strictly in arrival order.
	cmdQueue := queue.NewCommandQueue(1000)
	defer cmdQueue.Close()
	cmdQueue.StartProcessor(func(qc queue.QueuedCommand) {
		if err := router.SubmitCommand(qc.Command); err != nil {
			logStore.LogAndStore("warning", "command %q from %s rejected: %v", qc.Command.Name, qc.ClientID, err)
		}
	})

	tcfg := transport.Config{
		Hub: hub,
		OnCommand: func(cmd models.InjectedCommand, clientID string) {
			if !cmdQueue.Enqueue(clientID, cmd) {
				logStore.LogAndStore("warning", "command queue full, dropped %q from %s", cmd.Name, clientID)
			}
		},
		OnDecodeError: func(err error) {
			router.RecordDecodeError()
			logStore.LogAndStore("warning", "inbound frame rejected: %v", err)
		},
	}

	tcpSrv := transport.NewTCPServer(":"+*tcpPort, tcfg)
	udpSrv := transport.NewUDPServer(":"+*udpPort, tcfg)
	wsSrv := transport.NewWSServer(":"+*wsPort, tcfg)
	for _, start := range []func() error{tcpSrv.Start, udpSrv.Start, wsSrv.Start} {
		if err := start(); err != nil {
			log.Fatalf("Failed to start protocol server: %v", err)
		}
	}
	defer tcpSrv.Stop()
	defer udpSrv.Stop()
	defer wsSrv.Stop()

	janitorCtx, cancelJanitor := context.WithCancel(context.Background())
	defer cancelJanitor()
	go hub.RunJanitor(janitorCtx)

	scenarios := scenario.NewManager(*scenariosDir)
	factory := &source.Factory{
		Enc:       codec.NewEncoder(bridgeMode),
		Scenarios: scenarios,
		Emit:      router.Publish,
		Logs:      logStore,
		OnError: func(err error) {
			logStore.LogAndStore("error", "data source error: %v", err)
		},
	}

	switch *mode {
	case models.SourceScenario:
		err = router.Switch(models.SourceScenario, func() (source.DataSource, error) {
			return factory.Scenario(*scenarioName, *loop, *speed)
		})
	case models.SourceFile:
		err = router.Switch(models.SourceFile, func() (source.DataSource, error) {
			return factory.PlaybackFile(*file, *rate, *loop)
		})
	case models.SourceLive:
		err = router.Switch(models.SourceLive, func() (source.DataSource, error) {
			return factory.Live(source.LiveConfig{
				Host: *liveHost, Port: *livePort, Device: *liveDevice, Baud: *liveBaud,
			})
		})
	case models.SourceNone:
		// Start idle; the control plane can switch later.
	default:
		log.Fatalf("Invalid -mode: %q", *mode)
	}
	if err != nil {
		log.Fatalf("Failed to start initial data source: %v", err)
	}

	logStore.LogAndStore("info", "bridge mode %s; streaming on tcp :%s, udp :%s, ws :%s", bridgeMode, *tcpPort, *udpPort, *wsPort)
	logStore.LogAndStore("info", "control plane on :%s", *apiPort)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Mount("/", api.Routes(api.Deps{
		Router:    router,
		Factory:   factory,
		Scenarios: scenarios,
		Hub:       hub,
		Sessions:  sessionStore,
		Logs:      logStore,
		Started:   time.Now(),
	}))

	srv := &http.Server{Addr: ":" + *apiPort, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		log.Fatalf("Server failed: %v", err)
	case s := <-sig:
		logStore.LogAndStore("info", "received %s, shutting down", s)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	if router.ActiveKind() != models.SourceNone {
		router.StopActive()
	}
}
