// Command boardroom-janitor runs the scheduled maintenance jobs:
// deleting expired invitations and enforcing the audit retention
// policy. It is the only process allowed to remove audit entries.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/trusteekit/boardroom/pkg/audit"
	"github.com/trusteekit/boardroom/pkg/authz"
	"github.com/trusteekit/boardroom/pkg/invites"
	"github.com/trusteekit/boardroom/pkg/observability"
)

var (
	dbURL             = flag.String("db-url", getEnv("BOARDROOM_POSTGRES_URL", "postgres://localhost/boardroom?sslmode=disable"), "PostgreSQL connection URL")
	inviteSchedule    = flag.String("invite-schedule", "0 * * * *", "Cron schedule for expired invitation cleanup (default: every hour)")
	retentionSchedule = flag.String("retention-schedule", "30 2 * * *", "Cron schedule for the audit retention sweep (default: 02:30 UTC)")
	retentionDays     = flag.Int("retention-days", 7*365, "Audit entries older than this many days are removed")
	runOnce           = flag.Bool("run-once", false, "Run both jobs once and exit")
)

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.WithError(err).Fatal("failed to ping database")
	}

	recorder, err := audit.NewDBRecorder(db)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize audit recorder")
	}

	// The janitor never issues or accepts invitations, so no engine
	// policy overlay, notifier or tenant directory is needed here.
	inviteSvc, err := invites.NewPostgresService(
		db, authz.NewEngine(authz.NewMatrix()), recorder,
		nil, nil, observability.NewLogger(observability.InfoLevel, os.Stdout),
		invites.Options{},
	)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize invitation service")
	}

	policy := audit.RetentionPolicy{RetentionDays: *retentionDays}

	if *runOnce {
		sweepInvitations(log, inviteSvc)
		sweepAudit(log, recorder, policy)
		return
	}

	c := cron.New()

	if _, err := c.AddFunc(*inviteSchedule, func() {
		sweepInvitations(log, inviteSvc)
	}); err != nil {
		log.WithError(err).Fatal("failed to schedule invitation cleanup")
	}

	if _, err := c.AddFunc(*retentionSchedule, func() {
		sweepAudit(log, recorder, policy)
	}); err != nil {
		log.WithError(err).Fatal("failed to schedule retention sweep")
	}

	c.Start()
	log.WithFields(logrus.Fields{
		"invite_schedule":    *inviteSchedule,
		"retention_schedule": *retentionSchedule,
		"retention_days":     *retentionDays,
	}).Info("janitor started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	<-c.Stop().Done()
	log.Info("janitor stopped")
}

func sweepInvitations(log *logrus.Logger, svc invites.Service) {
	deleted, err := svc.DeleteExpired(context.Background())
	if err != nil {
		log.WithError(err).Error("expired invitation cleanup failed")
		return
	}
	log.WithField("deleted", deleted).Info("expired invitation cleanup completed")
}

func sweepAudit(log *logrus.Logger, recorder audit.Recorder, policy audit.RetentionPolicy) {
	purged, err := recorder.Purge(context.Background(), policy)
	if err != nil {
		log.WithError(err).Error("audit retention sweep failed")
		return
	}

	if purged > 0 {
		// The sweep itself leaves a trace; best-effort, since a failed
		// marker must not resurrect the purge.
		audit.BestEffort(context.Background(), recorder,
			observability.NewLogger(observability.InfoLevel, os.Stdout),
			&audit.Entry{
				Action:       audit.ActionAuditPurge,
				ResourceType: audit.ResourceAuditLog,
				Details:      map[string]interface{}{"purged": purged, "retention_days": policy.RetentionDays},
			})
	}

	log.WithField("purged", purged).Info("audit retention sweep completed")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
