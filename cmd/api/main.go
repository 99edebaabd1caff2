package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatgrid.org/internal/access"
	"chatgrid.org/internal/audit"
	"chatgrid.org/internal/config"
	"chatgrid.org/internal/httpapi"
	"chatgrid.org/internal/identity"
	"chatgrid.org/internal/ids"
	"chatgrid.org/internal/notify"
	"chatgrid.org/internal/obs"
	"chatgrid.org/internal/quota"
	"chatgrid.org/internal/session"
	"chatgrid.org/internal/store/memory"
	"chatgrid.org/internal/store/pg"
	"chatgrid.org/internal/users"
)

var version = "0.3.1"

func main() {
	obs.Init()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	codec, err := session.NewCodec(cfg.SessionSecret)
	if err != nil {
		log.Fatalf("session codec: %v", err)
	}

	// Without a DSN the service runs single-instance on in-memory stores;
	// with one, all shared state lives in Postgres so instances can scale
	// out.
	var (
		probe      httpapi.ReadyProbe
		userStore  users.Store
		quotaStore quota.Store
		auditStore audit.Store
		pgStore    *pg.Store
	)
	if cfg.PGDSN != "" {
		pgStore, err = pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
		userStore = pgStore.Users()
		quotaStore = pgStore.Quota()
		auditStore = pgStore.Audit()
	} else {
		userStore = memory.NewUserStore()
		quotaStore = memory.NewQuotaStore()
		auditStore = memory.NewAuditStore()
	}

	recorderOpts := []audit.RecorderOption{
		audit.WithWriteTimeout(cfg.AuditTimeout),
		audit.WithNotifyTimeout(cfg.NotifyTimeout),
	}
	if sink := notify.NewWebhook(cfg.NotifyWebhookURL, cfg.NotifyTimeout); sink != nil {
		recorderOpts = append(recorderOpts, audit.WithSink(sink))
	}
	recorder := audit.NewRecorder(auditStore, recorderOpts...)

	guard := access.NewGuard(recorder)
	userSvc := users.NewService(userStore, guard)
	tracker := quota.NewTracker(quotaStore, quota.WithAudit(recorder))
	resolver := session.NewResolver(codec)

	api := httpapi.New(httpapi.Deps{
		Config:   cfg,
		Codec:    codec,
		Resolver: resolver,
		Guard:    guard,
		Users:    userSvc,
		Quota:    tracker,
		Audit:    recorder,
		Chat:     echoChat{},
		Probe:    probe,
		Version:  version,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting chatgrid-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}

// echoChat stands in for the real chat backend, which is wired in by the
// surrounding application.
type echoChat struct{}

func (echoChat) Post(_ context.Context, author identity.Identity, text string) (httpapi.Message, error) {
	name := author.DisplayName
	if name == "" {
		name = "anonymous"
	}
	return httpapi.Message{
		ID:        ids.New(),
		AuthorID:  author.ID,
		Author:    name,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}, nil
}
