package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	persistlog "sharedtable.ai/internal/persistence/log"
	"sharedtable.ai/internal/sim/panels"
	"sharedtable.ai/internal/sim/scene"
	"sharedtable.ai/internal/sim/session"
	"sharedtable.ai/internal/sim/table"
	"sharedtable.ai/internal/sim/tuning"
	"sharedtable.ai/internal/sim/zones"
	"sharedtable.ai/internal/transport/observer"
)

func main() {
	var (
		addr       = pflag.String("addr", ":8080", "http listen address")
		configDir  = pflag.String("configs", "./configs", "config directory")
		dataDir    = pflag.String("data", "./data", "runtime data directory")
		tuningPath = pflag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		zonesPath  = pflag.String("zones", "", "path to zones.yaml (default: <configs>/zones.yaml)")
		scenePath  = pflag.String("scene", "", "path to scene.yaml (default: <configs>/scene.yaml)")
		disableDB  = pflag.Bool("disable_db", false, "disable the sqlite read-model index")
	)
	pflag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(configPath(*tuningPath, *configDir, "tuning.yaml"))
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	layout, err := zones.Load(configPath(*zonesPath, *configDir, "zones.yaml"))
	if err != nil {
		logger.Fatalf("load zones: %v", err)
	}
	cat, err := zones.NewCatalog(layout)
	if err != nil {
		logger.Fatalf("zones: %v", err)
	}
	desk, err := scene.LoadFile(configPath(*scenePath, *configDir, "scene.yaml"))
	if err != nil {
		logger.Fatalf("load scene: %v", err)
	}
	if len(tune.Peers) == 0 {
		logger.Fatalf("tuning.yaml: no peers configured")
	}

	// Optional read-model index; never consulted by the session itself.
	idx, err := openRuntimeIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertConfigs(tune, layout); err != nil {
			logger.Printf("index backend: upsert configs: %v", err)
		}
	}

	hub := session.NewHub(session.Config{
		PropagationTicks: uint64(tune.PropagationTicks),
		SignalBuffer:     tune.SignalBuffer,
	}, logger)
	room := table.NewRoom(hub, logger)

	var closers []func() error
	defer func() {
		for _, c := range closers {
			_ = c()
		}
	}()
	for i, name := range tune.Peers {
		peerDir := filepath.Join(*dataDir, "peers", name)
		_ = os.MkdirAll(peerDir, 0o755)
		tickLog := persistlog.NewTickLogger(peerDir)
		auditLog := persistlog.NewAuditLogger(peerDir)
		closers = append(closers, tickLog.Close, auditLog.Close)

		deps := table.Deps{
			Zones:  cat,
			Logger: logger,
			Audit:  []table.AuditSink{auditLog},
			Ticks:  []table.TickSink{tickLog},
		}
		if idx != nil {
			deps.Audit = append(deps.Audit, idx)
			deps.Ticks = append(deps.Ticks, idx)
		}
		cfg, local, err := deskFor(tune, cat, desk, i+1)
		if err != nil {
			logger.Fatalf("peer %s: %v", name, err)
		}
		deps.Scene = local
		if _, err := room.Join(name, cfg, deps); err != nil {
			logger.Fatalf("join %s: %v", name, err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		writeMetrics(rw, room, idx)
	})

	obsSrv := observer.NewServer(room, logger)
	mux.HandleFunc("/v1/bootstrap", obsSrv.BootstrapHandler())
	mux.HandleFunc("GET /v1/observe/{peer}", obsSrv.WSHandler())

	if envBool("ST_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		api := &adminAPI{room: room, idx: idx, dataDir: *dataDir, log: logger, now: time.Now}
		api.register(mux)
	} else {
		logger.Printf("admin endpoints disabled (ST_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("ST_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return room.Run(gctx, tune.TickRateHz)
	})
	g.Go(func() error {
		logger.Printf("listening on %s (peers=%s)", *addr, strings.Join(tune.Peers, ","))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ListenAndServe: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("server stopped: %v", err)
	}
}

// deskFor builds peer's local desk scene at its desk zone and the table
// config whose scan volume covers it.
func deskFor(tune tuning.Tuning, cat *zones.Catalog, layout scene.File, peer int) (table.Config, *scene.Scene, error) {
	desk, _ := cat.DeskFor(peer)
	local := scene.New()
	if _, err := layout.Build(local, desk.Transform); err != nil {
		return table.Config{}, nil, err
	}
	cfg := table.Config{
		TickRateHz:   tune.TickRateHz,
		Volume:       tune.ScanVolume(desk.Transform),
		RotateOffset: tune.RotateOffset,
		Panels:       panels.Config{HoldDuration: tune.HoldDuration(), SpawnOffset: tune.PanelOffset},
		ToolKit:      table.ToolKit{Enabled: tune.ToolKit.Enabled, Side: tune.ToolKit.Side, Lift: tune.ToolKit.Lift},
	}
	return cfg, local, nil
}

func configPath(flagValue, dir, name string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p
	}
	return filepath.Join(dir, name)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
