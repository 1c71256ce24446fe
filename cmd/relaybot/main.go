package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/veilchat/relaybot/internal/antispam"
	"github.com/veilchat/relaybot/internal/audit"
	"github.com/veilchat/relaybot/internal/config"
	"github.com/veilchat/relaybot/internal/db/sqlite"
	"github.com/veilchat/relaybot/internal/infra"
	"github.com/veilchat/relaybot/internal/lifecycle"
	"github.com/veilchat/relaybot/internal/observability"
	"github.com/veilchat/relaybot/internal/relay"
	"github.com/veilchat/relaybot/internal/users"
)

func main() {
	cfg := config.Get()
	log.SetFormatter(&config.Formatter{})
	log.SetOutput(logOutput(cfg))
	log.SetLevel(log.Level(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := observability.Init(ctx, cfg.Metrics.Addr); err != nil {
		log.WithError(err).Fatalln("cant initialize observability")
	}

	workDir := infra.GetWorkDir(cfg.DotPath)
	dbClient, err := sqlite.NewSQLiteClient(ctx, workDir, cfg.DBName)
	if err != nil {
		log.WithError(err).Fatalln("cant initialize database")
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.WithError(err).Errorln("cant close database")
		}
	}()

	thresholds := antispam.NewThresholdService(dbClient)
	if err := thresholds.Load(ctx); err != nil {
		log.WithError(err).Warnln("cant load persisted thresholds, using defaults")
	}

	natsConn, err := nats.Connect(cfg.NATS.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		log.WithError(err).Fatalln("cant connect to nats")
	}
	defer natsConn.Drain()

	auditor := audit.NewPublisher(natsConn, cfg.NATS.AuditSubject)
	userService := users.NewService(dbClient)
	engine := antispam.NewEngine(dbClient, userService, auditor, thresholds, cfg.AntiSpam.CheckTimeout)

	runtime := lifecycle.NewRuntime(
		antispam.NewMuteSweeper(engine, cfg.AntiSpam.SweepInterval),
		relay.NewConsumer(natsConn, engine, cfg.NATS.InboundSubject, cfg.NATS.Workers),
		relay.NewAdminEndpoint(natsConn, engine, userService, cfg.NATS.AdminSubject),
	)

	infra.GoRecoverable(-1, "serve", func() {
		defer cancel()

		if err := runtime.Start(ctx); err != nil {
			log.WithError(err).Fatalln("cant start runtime")
		}
		log.Infoln("relaybot started")

		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-signals:
			log.WithField("signal", sig.String()).Infoln("shutting down")
		case <-ctx.Done():
		}
	})
	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := runtime.Stop(stopCtx); err != nil {
		log.WithError(err).Errorln("shutdown finished with errors")
	}
}

func logOutput(cfg config.Config) io.Writer {
	if cfg.LogFile == "" {
		return os.Stdout
	}
	return io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	})
}
