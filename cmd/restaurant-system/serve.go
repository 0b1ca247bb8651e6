package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"restaurant-system/internal/common/httpx"
	"restaurant-system/internal/common/logger"
	"restaurant-system/internal/config"
	"restaurant-system/internal/connections/database"
	"restaurant-system/internal/metrics"
	"restaurant-system/internal/microservices/notificator"
	"restaurant-system/internal/microservices/order"
	"restaurant-system/internal/microservices/order/repository"
	"restaurant-system/internal/microservices/tracker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the order API, the dashboard subscriptions and the relay",
	RunE:  runServe,
}

// backend is an opened order store plus what it takes to check and
// release it.
type backend struct {
	repository.OrderRepositoryInterface
	db *sql.DB
}

func (b *backend) ping(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	return b.db.PingContext(ctx)
}

func (b *backend) close() {
	_ = b.OrderRepositoryInterface.Close()
	if b.db != nil {
		_ = b.db.Close()
	}
}

func openBackend(ctx context.Context, cfg *config.Config, log *logger.Logger) (*backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		log.Info(logger.ActionStoreOpened, map[string]any{"backend": config.BackendMemory})
		return &backend{OrderRepositoryInterface: repository.NewMemoryStore()}, nil
	case config.BackendPebble:
		store, err := repository.NewPebbleStore(cfg.Storage.PebbleDir)
		if err != nil {
			return nil, err
		}
		log.Info(logger.ActionStoreOpened, map[string]any{"backend": config.BackendPebble, "dir": cfg.Storage.PebbleDir})
		return &backend{OrderRepositoryInterface: store}, nil
	case config.BackendPostgres:
		db, err := database.ConnectDB(ctx, cfg.Database)
		if err != nil {
			log.Error(logger.ActionDBConnectFailed, err, map[string]any{"host": cfg.Database.Host, "port": cfg.Database.Port})
			return nil, err
		}
		log.Info(logger.ActionDBConnected, map[string]any{"host": cfg.Database.Host, "database": cfg.Database.Database})
		if err := database.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		log.Info(logger.ActionDBMigrated, nil)
		return &backend{OrderRepositoryInterface: repository.NewPostgresStore(db), db: db}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, "restaurant-system")
	if err != nil {
		return err
	}
	defer log.Sync()
	log.Info(logger.ActionConfigLoaded, map[string]any{
		"addr": cfg.Server.Addr, "backend": cfg.Storage.Backend, "rabbitmq": cfg.RabbitMQ.Enabled,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openBackend(ctx, cfg, log)
	if err != nil {
		log.Error(logger.ActionServiceFailed, err, nil)
		return err
	}
	defer store.close()

	m := metrics.NewRegistry()
	n, err := notificator.Start(*cfg, log, m)
	if err != nil {
		log.Error(logger.ActionServiceFailed, err, nil)
		return err
	}
	defer n.Close()

	api := http.NewServeMux()
	order.Start(api, store, n, cfg.Server.PingInterval, log, m)
	tracker.Start(api, store, log, m)

	mux := http.NewServeMux()
	mux.Handle("/api/", httpx.TenantMiddleware(api))
	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.ping(r.Context()); err != nil {
			httpx.WriteProblem(w, http.StatusServiceUnavailable, "unavailable", "store unreachable")
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	srv := httpx.New(cfg.Server.Addr, httpx.RequestLogger(log)(mux), cfg.Server.ShutdownTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return n.Run(gctx) })
	log.Info(logger.ActionServiceStarted, map[string]any{"addr": cfg.Server.Addr})

	err = g.Wait()
	if err != nil {
		log.Error(logger.ActionServiceFailed, err, nil)
	}
	log.Info(logger.ActionGracefulShutdown, nil)
	return err
}
