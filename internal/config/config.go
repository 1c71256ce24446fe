package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

type (
	Config struct {
		DotPath  string `env:"DOT_PATH,default=~/.relaybot"`
		DBName   string `env:"DB_NAME,default=relaybot.sqlite"`
		LogLevel int    `env:"LOG_LEVEL,default=2"`
		LogFile  string `env:"LOG_FILE"`
		NATS     NATS
		Metrics  Metrics
		AntiSpam AntiSpam
	}

	NATS struct {
		URL            string `env:"NATS_URL,default=nats://127.0.0.1:4222"`
		InboundSubject string `env:"NATS_INBOUND_SUBJECT,default=chat.room.*.inbound"`
		AdminSubject   string `env:"NATS_ADMIN_SUBJECT,default=chat.admin.antispam"`
		AuditSubject   string `env:"NATS_AUDIT_SUBJECT,default=chat.audit.moderation"`
		Workers        int    `env:"NATS_WORKERS,default=8"`
	}

	Metrics struct {
		Addr string `env:"METRICS_ADDR,default=:9090"`
	}

	AntiSpam struct {
		CheckTimeout  time.Duration `env:"SPAM_CHECK_TIMEOUT,default=2s"`
		SweepInterval time.Duration `env:"SPAM_SWEEP_INTERVAL,default=5m"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

func Load() (Config, error) {
	once.Do(func() {
		cfg := &Config{}
		envcfg := envconfig.Config{
			Lookuper: envconfig.PrefixLookuper("RELAY_", envconfig.OsLookuper()),
			Target:   cfg,
		}
		if err := envconfig.ProcessWith(context.Background(), &envcfg); err != nil {
			globalErr = fmt.Errorf("process env config: %w", err)
			return
		}
		home, err := os.UserHomeDir()
		if err != nil {
			globalErr = fmt.Errorf("get user home directory: %w", err)
			return
		}
		cfg.DotPath = strings.Replace(cfg.DotPath, "~", home, 1)
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}
