// Command wsdemo runs a standalone graphql-transport-ws server exposing
// two demo subscriptions: /ws/greeting (pkg/subscriptions/greeting, a
// finite producer) and /ws/ticker (pkg/subscriptions/ticker, an
// eventbus-backed infinite producer). It is the smallest complete
// wiring of internal/transport + internal/wsadapter, grounded on the
// teacher's main.dev.go echo server.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/nasnet-community/subwire/internal/eventbus"
	"github.com/nasnet-community/subwire/internal/logger"
	"github.com/nasnet-community/subwire/internal/settings"
	"github.com/nasnet-community/subwire/internal/transport"
	"github.com/nasnet-community/subwire/internal/wsadapter"
	"github.com/nasnet-community/subwire/pkg/subscriptions/greeting"
	"github.com/nasnet-community/subwire/pkg/subscriptions/ticker"
)

func main() {
	configPath := flag.String("config", "", "path to a settings YAML file (optional)")
	flag.Parse()

	cfg, err := settings.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger.Init(&logger.Config{Level: cfg.LogLevel, Development: !cfg.Production, JSONOutput: cfg.Production})
	log := logger.L()
	defer logger.Sync()

	bus := eventbus.New(256)
	defer bus.Close()

	go publishHeartbeat(bus)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	greetingServer := transport.NewServer(greeting.Factory{Count: 5}, transport.Hooks{}, serverOptions(cfg)...)
	e.GET("/ws/greeting", echo.WrapHandler(wsadapter.NewHandler(greetingServer)))

	tickerServer := transport.NewServer(ticker.Factory{Bus: bus}, transport.Hooks{}, serverOptions(cfg)...)
	e.GET("/ws/ticker", echo.WrapHandler(wsadapter.NewHandler(tickerServer)))

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()
	log.Info("wsdemo listening", zap.String("addr", cfg.ListenAddr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
		os.Exit(1)
	}
	greetingServer.Shutdown(shutdownCtx)
	tickerServer.Shutdown(shutdownCtx)
	log.Info("wsdemo stopped")
}

func serverOptions(cfg settings.Settings) []transport.Option {
	return []transport.Option{
		transport.WithInitTimeout(cfg.InitTimeout),
		transport.WithKeepAliveInterval(cfg.KeepAliveInterval),
		transport.WithProduction(cfg.Production),
		transport.WithLogger(logger.L()),
	}
}

// publishHeartbeat feeds the "heartbeat" topic so a client subscribed
// to /ws/ticker with payload {"topic":"heartbeat"} sees something
// without needing a second process to publish events.
func publishHeartbeat(bus *eventbus.Bus) {
	hb := time.NewTicker(5 * time.Second)
	defer hb.Stop()
	for range hb.C {
		_ = bus.Publish("heartbeat", []byte(`{"beat":true}`))
	}
}
