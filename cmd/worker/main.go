package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/frameward/jobcore/internal/config"
	"github.com/frameward/jobcore/internal/domain"
	"github.com/frameward/jobcore/internal/jobstore"
	"github.com/frameward/jobcore/internal/media"
	"github.com/frameward/jobcore/internal/notify"
	"github.com/frameward/jobcore/internal/records"
	"github.com/frameward/jobcore/internal/schedule"
	"github.com/frameward/jobcore/internal/storage"
	"github.com/frameward/jobcore/internal/tempfs"
	"github.com/frameward/jobcore/internal/worker"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg.Debug)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer db.Close()

	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	store := jobstore.New(rdb)
	store.SetLeaseTTL(time.Duration(cfg.LeaseTTLSec) * time.Second)
	rec := records.New(db)

	objStore, err := newObjectStore(cfg)
	if err != nil {
		log.Fatal("object store init", zap.Error(err))
	}
	temp, err := tempfs.New(cfg.TempDir)
	if err != nil {
		log.Fatal("temp workspace init", zap.Error(err))
	}

	deps := media.Deps{
		Store:    objStore,
		Temp:     temp,
		FF:       media.NewFFmpeg(cfg.FFmpegBin, cfg.FFprobeBin),
		Log:      log,
		Counters: store,
		Sprites:  cfg.Sprites,
	}

	mailer := notify.NewSMTPMailer(cfg.SMTPAddr, cfg.MailFrom, cfg.SMTPUser, cfg.SMTPPass)
	engine := notify.NewEngine(rec, store, mailer, log)
	registrar := schedule.NewRegistrar(store, rec, log)
	maintenance := &schedule.MaintenanceHandler{
		Records:   rec,
		Jobs:      store,
		Temp:      temp,
		Registrar: registrar,
		Log:       log,
	}

	if err := registrar.Sync(ctx); err != nil {
		log.Fatal("recurring schedule sync", zap.Error(err))
	}

	drain := time.Duration(cfg.DrainTimeout) * time.Second
	sup := worker.NewSupervisor(store, log, drain)
	sup.Register(domain.QueueVideo, &media.VideoHandler{Deps: deps, Records: rec}, store, persistVideoProgress(rec))
	sup.Register(domain.QueueAsset, &media.AssetHandler{Deps: deps, Records: rec}, store, nil)
	sup.Register(domain.QueueClientFile, &media.ClientFileHandler{Deps: deps, Records: rec}, store, nil)
	sup.Register(domain.QueueProjectEmail, &media.ProjectEmailHandler{Deps: deps, Records: rec}, store, nil)
	sup.Register(domain.QueueAlbumPhoto, &media.AlbumPhotoHandler{Deps: deps, Records: rec}, store, nil)
	sup.Register(domain.QueueNotify, worker.HandlerFunc(engine.Handle), store, nil)
	sup.Register(domain.QueueMaintenance, worker.HandlerFunc(maintenance.Handle), store, nil)

	go serveHealth(ctx, cfg.HealthAddr, rdb, db, store, rec, log)

	log.Info("worker starting", zap.String("env", cfg.AppEnv))
	sup.Run(ctx)
	log.Info("worker stopped")
}

func newLogger(debug bool) *zap.Logger {
	var log *zap.Logger
	var err error
	if debug {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return log
}

func newObjectStore(cfg config.Config) (storage.Store, error) {
	if cfg.StorageKind == "supabase" {
		return storage.NewSupabase(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseBucket), nil
	}
	return storage.NewLocal(cfg.StorageRoot)
}

// persistVideoProgress is the throttled snapshot writer for the video
// pool.
func persistVideoProgress(rec *records.Store) worker.ProgressPersist {
	return func(ctx context.Context, payload any, percent int) {
		p, ok := payload.(*domain.VideoPayload)
		if !ok {
			return
		}
		_ = rec.UpdateVideo(ctx, p.VideoID, records.VideoUpdate{Progress: &percent})
	}
}

func serveHealth(ctx context.Context, addr string, rdb *r.Client, db *pgxpool.Pool, store *jobstore.Store, rec *records.Store, log *zap.Logger) {
	rtr := chi.NewRouter()
	rtr.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rtr.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if err := rdb.Ping(req.Context()).Err(); err != nil {
			http.Error(w, "redis: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		if err := db.Ping(req.Context()); err != nil {
			http.Error(w, "postgres: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	rtr.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		stats := map[string]any{}
		for _, name := range []string{"jobs_completed", "emails_sent", "videos_transcoded", "bytes_uploaded"} {
			if v, err := store.Counter(req.Context(), name); err == nil {
				stats[name] = v
			}
		}
		if n, err := rec.FailedEntryCount(req.Context()); err == nil {
			stats["failed_notification_entries"] = n
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	})

	srv := &http.Server{Addr: addr, Handler: rtr}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("health server", zap.Error(err))
	}
}
