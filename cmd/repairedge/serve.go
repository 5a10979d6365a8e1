package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"repairedge/config"
	"repairedge/engine"
	"repairedge/messaging"
	"repairedge/protocol"
	"repairedge/records"
	"repairedge/statecache"
	"repairedge/store"
	"repairedge/www"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the repair cell (default)",
		RunE:  runServe,
	}
	addServeFlags(cmd)
	return cmd
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().Int("port", 0, "HTTP port (overrides config)")
}

func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("load config: %w", err)
	}
	return cfg, path, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	debug, _ := cmd.Flags().GetBool("debug")
	cfg, configPath, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Web.Port = port
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	src, err := records.Open(cfg.Records, db)
	if err != nil {
		log.Printf("records: %v (serving cached work items only)", err)
		src, _ = records.Open(config.RecordsConfig{}, db)
	}
	defer src.Close()

	var cache *statecache.Cache
	if cfg.Redis.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		cache, err = statecache.Dial(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.StationID, cfg.Redis.TTL)
		cancel()
		if err != nil {
			log.Printf("redis not available (%v), running without live state cache", err)
		} else {
			log.Printf("redis connected (%s)", cfg.Redis.Address)
			defer cache.Close()
		}
	}

	eng := engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: configPath,
		DB:         db,
		Records:    src,
		StateCache: cache,
		LogFunc:    log.Printf,
		Debug:      debug,
	})
	if err := eng.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer eng.Stop()

	// Status messages are queued even while the broker is down and drained later.
	reporter := messaging.NewStatusReporter(db, cfg.StationID, cfg.Messaging.StatusTopic)
	eng.Events.SubscribeTypes(reporter.HandleEvent, reporter.EventTypes()...)

	if cfg.Messaging.Backend != "" {
		stopMessaging := startMessaging(cfg, db, eng)
		defer stopMessaging()
	}

	router, stopWeb := www.NewRouter(eng)
	defer stopWeb()

	var server *http.Server
	if cfg.Web.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
		server = &http.Server{Addr: addr, Handler: router}
		go func() {
			log.Printf("repairedge listening on %s", addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("http server: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")

	// Stop SSE event hub first so long-lived connections close
	stopWeb()

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("http server shutdown: %v", err)
		}
	}
	return nil
}

// startMessaging connects the broker client and starts the outbox drainer,
// the task ingestor and the heartbeater. The returned func stops them.
func startMessaging(cfg *config.Config, db *store.DB, eng *engine.Engine) func() {
	client := messaging.NewClient(&cfg.Messaging, cfg.ClientID())
	if err := client.Connect(); err != nil {
		log.Printf("messaging connect: %v (status stays queued in the outbox)", err)
		return client.Close
	}

	drainer := messaging.NewOutboxDrainer(db, client, cfg.Messaging.OutboxDrainInterval)
	drainer.Start()

	ingestor := protocol.NewIngestor(messaging.NewTaskHandler(eng), protocol.ForStation(cfg.StationID))
	if err := client.Subscribe(cfg.Messaging.TaskTopic, ingestor.HandleRaw); err != nil {
		log.Printf("protocol ingestor subscribe: %v", err)
	} else {
		log.Printf("protocol ingestor listening on %s (station=%s)", cfg.Messaging.TaskTopic, cfg.StationID)
	}

	sides := make([]string, 0, len(cfg.Mover.Points))
	for side := range cfg.Mover.Points {
		sides = append(sides, side)
	}
	sort.Strings(sides)
	hb := messaging.NewHeartbeater(client, cfg.StationID, version, sides, cfg.Messaging.StatusTopic,
		cfg.Messaging.HeartbeatInterval, func() (string, string) {
			snap := eng.Machine().Snapshot()
			return string(snap.Stage), snap.TaskID
		})
	hb.Start()

	return func() {
		hb.Stop()
		drainer.Stop()
		client.Close()
	}
}
