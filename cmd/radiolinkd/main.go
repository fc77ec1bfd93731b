package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/jeongseonghan/radiolink/internal/config"
	"github.com/jeongseonghan/radiolink/internal/frame"
	"github.com/jeongseonghan/radiolink/internal/metrics"
	"github.com/jeongseonghan/radiolink/internal/radio"
	"github.com/jeongseonghan/radiolink/internal/server"
	"github.com/jeongseonghan/radiolink/internal/session"
)

func main() {
	configPath := pflag.String("config", "", "Path to the YAML configuration file")
	addr := pflag.String("addr", "", "Listen address, overrides the config file")
	logLevel := pflag.String("log-level", "", "Log level: debug, info, warn or error")
	pflag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "radiolinkd",
	})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load configuration", "err", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	level := cfg.Logging.Level
	if *logLevel != "" {
		level = *logLevel
	}
	if lvl, err := log.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.Warn("unknown log level, using info", "level", level)
	}
	if cfg.Logging.Format == "json" {
		logger.SetFormatter(log.JSONFormatter)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	met := metrics.New(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The module radios run as an in-process simulated pair: each
	// module's transmissions loop back to its own receiver. Hardware
	// transceiver bindings slot in behind the same radio.Radio
	// interface.
	workers := make(map[frame.Module]*session.Worker)
	for name, mc := range cfg.Modules {
		mod, err := frame.ParseModule(name)
		if err != nil {
			logger.Fatal("configure module", "module", name, "err", err)
		}
		ladder, err := mc.LadderProfiles()
		if err != nil {
			logger.Fatal("configure module ladder", "module", name, "err", err)
		}

		scfg := session.DefaultConfig()
		scfg.Band = mc.BandOrDefault()
		scfg.Ladder = ladder
		scfg.Link = mc.Link()
		scfg.Channel = mc.Channel()
		if mc.QueueLimit > 0 {
			scfg.QueueLimit = mc.QueueLimit
		}
		if mc.RetryBudget > 0 {
			scfg.RetryBudget = mc.RetryBudget
		}
		if mc.RetryBackoff > 0 {
			scfg.RetryBackoff = mc.RetryBackoff
		}
		if mc.ReassemblyTimeout > 0 {
			scfg.ReassemblyTimeout = mc.ReassemblyTimeout
		}

		hal := radio.NewSim(radio.WithLoopback())
		sess, err := session.New(mod, scfg, hal, met, logger)
		if err != nil {
			logger.Fatal("create session", "module", name, "err", err)
		}

		wk := session.NewWorker(sess)
		workers[mod] = wk
		go wk.Run(ctx)
		logger.Info("module up", "module", name, "band", scfg.Band.String())
	}

	handlers := server.NewHandlers(workers, logger)
	srv := server.NewServer(cfg.Server.Addr, handlers, reg, logger)

	// Pump reassembled inbound messages to the WebSocket clients.
	for _, wk := range workers {
		go func(wk *session.Worker) {
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-wk.Events():
					handlers.Hub().BroadcastReceive(ev)
				}
			}
		}(wk)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig.String())
		cancel()
		shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "err", err)
		}
	}()

	if err := srv.Start(); err != nil {
		logger.Fatal("server", "err", err)
	}
}
