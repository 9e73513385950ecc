package main

import (
	"context"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signalo.org/db"
	"signalo.org/internal/audit"
	"signalo.org/internal/auth"
	"signalo.org/internal/httpapi"
	"signalo.org/internal/jobs"
	"signalo.org/internal/migrate"
	"signalo.org/internal/notify"
	"signalo.org/internal/obs"
	"signalo.org/internal/organizations"
	"signalo.org/internal/policy"
	"signalo.org/internal/reporting"
	"signalo.org/internal/store/pg"
)

var version = "0.3.1"

func main() {
	obs.Init()

	dsn := os.Getenv("SIGNALO_PG_DSN")
	if dsn == "" {
		log.Fatal("SIGNALO_PG_DSN is required")
	}
	dbConn, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer dbConn.Close()

	if os.Getenv("SIGNALO_AUTO_MIGRATE") == "true" {
		migrations, err := fs.Sub(db.Migrations, "migrations")
		if err != nil {
			log.Fatalf("migrations fs: %v", err)
		}
		if err := migrate.NewManager(dbConn, migrations).Up(context.Background()); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}

	orgs, err := organizations.NewService(pg.NewOrganizationStore(dbConn))
	if err != nil {
		log.Fatalf("organizations service: %v", err)
	}
	stream := notify.NewStream()
	defer stream.Close()
	trail := pg.NewAuditStore(dbConn)
	// The recorder is a direct notifier: the trail never loses transitions
	// to a saturated stream. The stream only feeds SSE and the workers.
	notifier := reporting.CombineNotifiers(audit.NewRecorder(trail), stream)
	reports, err := reporting.NewService(pg.NewReportStore(dbConn), orgs, reporting.WithNotifier(notifier))
	if err != nil {
		log.Fatalf("reporting service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go jobs.NewSweeper(reports, jobs.DefaultGrace, time.Hour).Run(ctx)
	go jobs.NewAssigner(reports, stream).Run(ctx)

	api := httpapi.New(httpapi.Config{
		ReadyProbe: httpapi.ReadyProbe{DB: dbConn},
		Version:    version,
		Reports:    reports,
		Orgs:       orgs,
		Users:      auth.NewPGUserStore(dbConn),
		Engine:     policy.NewEngine(),
		Stream:     stream,
		Trail:      trail,
	})

	addr := os.Getenv("SIGNALO_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting signalo-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}
