package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Reverse-Call-Center/acd/agents"
	"github.com/Reverse-Call-Center/acd/config"
	"github.com/Reverse-Call-Center/acd/handlers"
	"github.com/Reverse-Call-Center/acd/logging"
	"github.com/Reverse-Call-Center/acd/server"
	"github.com/sirupsen/logrus"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := logging.NewLogger("core")
	log.Info("Automatic Call Distributor Starting...")

	cfg, err := config.LoadConfig(settingsPath())
	if err != nil {
		log.WithError(err).Fatal("error loading config")
	}
	if err := logging.Init(logging.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	}); err != nil {
		log.WithError(err).Fatal("error configuring logging")
	}
	defer logging.Close()

	pool, err := agents.NewPool(cfg.Agents)
	if err != nil {
		log.WithError(err).Fatal("error building agent roster")
	}
	for _, ep := range cfg.OfflineAgents {
		if agent, ok := pool.Get(ep); ok {
			pool.MarkOffline(agent)
		}
	}

	transport, err := server.NewSIPTransport(cfg, logging.NewLogger("sip"))
	if err != nil {
		log.WithError(err).Fatal("error creating SIP transport")
	}

	health := agents.NewHealthServer(logging.NewLogger("admin"))
	engine := handlers.NewEngine(transport, pool,
		handlers.WithLogger(log),
		handlers.WithOptions(engineOptions(cfg)),
		handlers.WithStatusHook(health.Update),
	)

	if cfg.AdminListen != "" {
		go func() {
			if err := health.Serve(ctx, cfg.AdminListen); err != nil {
				log.WithError(err).Error("admin server stopped")
			}
		}()
	}

	go func() {
		if err := transport.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("SIP server stopped")
			cancel()
		}
	}()

	if err := engine.Run(ctx, transport.Events()); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("call distributor stopped")
	}
	log.WithFields(logrus.Fields{"agents": pool.Len()}).Info("shutting down")
}

// settingsPath looks for configs/settings.ini next to the executable, then in
// the working directory.
func settingsPath() string {
	if p := os.Getenv("ACD_SETTINGS"); p != "" {
		return p
	}
	if exePath, err := os.Executable(); err == nil {
		p := filepath.Join(filepath.Dir(exePath), "configs", "settings.ini")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join("configs", "settings.ini")
}

func engineOptions(cfg *config.Config) handlers.Options {
	return handlers.Options{
		App:                  cfg.AppName,
		CallerIDLabel:        cfg.CallerIDLabel,
		ProcessingETA:        cfg.ProcessingETA,
		RematchDelay:         cfg.RematchDelay,
		DialTimeout:          cfg.DialTimeout,
		BridgeConfirmTimeout: cfg.BridgeConfirmTimeout,
		MusicBridge:          cfg.MusicBridge,
		SilentBridge:         cfg.SilentBridge,
		WelcomeClip:          cfg.WelcomeClip,
		PositionClip:         cfg.PositionClip,
		NoAgentsClip:         cfg.NoAgentsClip,
		TombstoneTTL:         cfg.TombstoneTTL,
	}
}
