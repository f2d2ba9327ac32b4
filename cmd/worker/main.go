package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/uuid"
	"github.com/hray3182/medbay-reminders/internal/alert"
	"github.com/hray3182/medbay-reminders/internal/config"
	"github.com/hray3182/medbay-reminders/internal/database"
	"github.com/hray3182/medbay-reminders/internal/dispatcher"
	"github.com/hray3182/medbay-reminders/internal/logger"
	"github.com/hray3182/medbay-reminders/internal/repository"
	"github.com/hray3182/medbay-reminders/internal/scheduler"
	"github.com/hray3182/medbay-reminders/internal/sms"
	"github.com/sirupsen/logrus"
)

type reminderStore interface {
	dispatcher.ReminderStore
	Requeue(ctx context.Context, id uuid.UUID, at time.Time) error
}

func main() {
	once := flag.Bool("once", false, "run a single dispatch cycle and exit")
	requeue := flag.String("requeue", "", "reset an errored reminder `id` to scheduled (now) and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to open reminder store")
	}
	defer closeStore()

	if *requeue != "" {
		code := runRequeue(ctx, store, *requeue, log)
		closeStore()
		os.Exit(code)
	}

	loc, err := cfg.Dispatch.Location()
	if err != nil {
		log.WithError(err).Fatal("Invalid timezone")
	}

	var sender sms.Sender
	if cfg.Twilio.Enabled() {
		sender = sms.NewTwilioSender(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.PhoneNumber, cfg.Twilio.RatePerSecond, log)
		log.Info("Twilio sender configured")
	} else {
		sender = sms.NewSimulatedSender(log)
		log.Warn("Twilio credentials missing, SMS sending is simulated")
	}

	disp := dispatcher.New(store, sender, log, dispatcher.Options{
		Lookback:    cfg.Dispatch.Lookback,
		LeaseTTL:    cfg.Dispatch.LeaseTTL,
		SendTimeout: cfg.Dispatch.SendTimeout,
		Concurrency: cfg.Dispatch.Concurrency,
		Location:    loc,
	})

	var alerter scheduler.Alerter
	if cfg.Telegram.Enabled() {
		tg, err := alert.NewTelegramAlerter(cfg.Telegram.Token, cfg.Telegram.AlertChatID)
		if err != nil {
			log.WithError(err).Warn("Telegram alerts disabled")
		} else {
			alerter = tg
		}
	}

	sched := scheduler.New(disp, alerter, log, scheduler.Config{
		CronSpec:     cfg.Dispatch.CronSpec,
		CycleTimeout: cfg.Dispatch.CycleTimeout,
		Location:     loc,
	})

	if *once {
		if _, err := sched.RunOnce(ctx); err != nil {
			closeStore()
			os.Exit(1)
		}
		return
	}

	// SIGUSR1 runs a cycle right away.
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-usr1:
				sched.Notify()
			}
		}
	}()

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.WithError(err).Warn("Failed to notify systemd")
	}
	if err := sched.Start(ctx); err != nil {
		log.WithError(err).Fatal("Scheduler failed")
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	log.Info("Shutting down")
}

func openStore(ctx context.Context, cfg config.StoreConfig, log logrus.FieldLogger) (reminderStore, func(), error) {
	switch cfg.Driver {
	case "sqlite":
		repo, err := repository.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		log.WithField("path", cfg.SQLitePath).Info("Opened sqlite reminder store")
		return repo, func() { _ = repo.Close() }, nil
	default:
		db, err := database.New(ctx, cfg.DatabaseURI)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(ctx, log); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("Connected to database")
		return repository.NewReminderRepository(db), db.Close, nil
	}
}

func runRequeue(ctx context.Context, store reminderStore, rawID string, log logrus.FieldLogger) int {
	id, err := uuid.Parse(rawID)
	if err != nil {
		log.WithError(err).Error("Invalid reminder id")
		return 2
	}
	if err := store.Requeue(ctx, id, time.Now()); err != nil {
		log.WithError(err).WithField("reminder_id", id).Error("Failed to requeue reminder")
		return 1
	}
	log.WithField("reminder_id", id).Info("Reminder requeued")
	return 0
}
