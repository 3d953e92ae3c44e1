package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"care-reminders/internal/api"
	"care-reminders/internal/config"
	"care-reminders/internal/logging"
	"care-reminders/internal/push"
	"care-reminders/internal/repository"
	"care-reminders/internal/repository/mongostore"
	"care-reminders/internal/service"
)

type stores struct {
	tasks  service.TaskStore
	groups service.GroupStore
	users  service.UserStore
	ledger service.Ledger
	close  func()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path := os.Getenv("CARE_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		logging.Logger.Fatalf("config: %v", err)
	}
	if err := logging.Init(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File}); err != nil {
		logging.Logger.Fatalf("logging: %v", err)
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		logging.Logger.Fatalf("store: %v", err)
	}
	defer st.close()

	sender, err := newDispatcher(cfg)
	if err != nil {
		logging.Logger.Fatalf("push: %v", err)
	}

	audience := service.NewAudienceResolver(st.groups, st.users, cfg.Store.InQueryLimit)
	tracker := service.NewTracker(st.ledger, cfg.Ledger.ClaimLease)
	reminderSvc := service.NewReminderService(st.tasks, st.users, audience, tracker, sender, cfg.Location)
	triggerSvc := service.NewTriggerService(audience, sender)
	taskSvc := service.NewTaskService(st.tasks, st.groups, triggerSvc)

	scheduler := service.NewSchedulerService(cfg.Location, cfg.Schedule.JobTimeout)
	passJob := func(pass string) service.Job {
		return func(jobCtx context.Context) error {
			_, err := reminderSvc.Run(jobCtx, pass, time.Now())
			return err
		}
	}
	if _, err := scheduler.ScheduleInterval(service.PassUpcoming, cfg.Schedule.UpcomingInterval, passJob(service.PassUpcoming)); err != nil {
		logging.Logger.Fatalf("schedule upcoming: %v", err)
	}
	if _, err := scheduler.ScheduleInterval(service.PassMissed, cfg.Schedule.MissedInterval, passJob(service.PassMissed)); err != nil {
		logging.Logger.Fatalf("schedule missed: %v", err)
	}
	if _, err := scheduler.ScheduleDaily(service.PassDaily, cfg.Schedule.DailyAt, passJob(service.PassDaily)); err != nil {
		logging.Logger.Fatalf("schedule daily: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.NewHandler(reminderSvc, triggerSvc, taskSvc).Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: time.Minute,
	}
	go func() {
		logging.Logger.Infof("listening on %s", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Logger.Errorf("http server: %v", err)
			stop()
		}
	}()

	logging.Logger.WithField("timezone", cfg.Timezone).Info("Care reminder service started.")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Logger.Warnf("http shutdown: %v", err)
	}
	logging.Logger.Info("Shutdown complete.")
}

func openStores(ctx context.Context, cfg config.Config) (*stores, error) {
	switch cfg.Store.Driver {
	case config.DriverMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		ms, err := mongostore.Connect(connectCtx, cfg.Store.MongoURI, cfg.Store.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return &stores{
			tasks:  ms.Tasks,
			groups: ms.Groups,
			users:  ms.Users,
			ledger: ms.Ledger,
			close: func() {
				if err := ms.Close(context.Background()); err != nil {
					logging.Logger.Warnf("mongo disconnect: %v", err)
				}
			},
		}, nil
	default:
		db, err := repository.NewDB(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &stores{
			tasks:  repository.NewTaskRepository(db),
			groups: repository.NewGroupRepository(db),
			users:  repository.NewUserRepository(db),
			ledger: repository.NewLedgerRepository(db),
			close: func() {
				if sqlDB, err := db.DB(); err == nil {
					sqlDB.Close()
				}
			},
		}, nil
	}
}

// newDispatcher routes device tokens to the gateway, or to the log when no
// gateway is configured, and tg: tokens to Telegram when a bot token is set.
func newDispatcher(cfg config.Config) (push.Dispatcher, error) {
	var devices push.Dispatcher = push.LogSender{}
	if cfg.Push.GatewayURL != "" {
		devices = push.NewGateway(cfg.Push.GatewayURL, cfg.Push.APIKey, cfg.Push.BatchSize, cfg.Push.Timeout)
	} else {
		logging.Logger.Warn("push.gateway_url not set, device messages are only logged")
	}

	var telegram push.Dispatcher
	if cfg.Telegram.Token != "" {
		sender, err := push.NewTelegramSender(cfg.Telegram.Token)
		if err != nil {
			return nil, err
		}
		telegram = sender
	}
	return push.NewRouter(devices, telegram), nil
}
