package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/assetray/realtime/internal/auth"
	"github.com/assetray/realtime/internal/handler"
	"github.com/assetray/realtime/internal/hub"
	"github.com/assetray/realtime/internal/liveness"
	"github.com/assetray/realtime/internal/metrics"
	"github.com/assetray/realtime/internal/server"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type App struct {
	logger   *zap.Logger
	settings Settings

	registry        hub.Registry
	websocketServer *server.WebSocketServer
	restServer      *server.RESTServer
	monitor         *liveness.Monitor
	promRegistry    *prometheus.Registry
}

func NewApp(logger *zap.Logger, settings Settings) *App {
	websocketUpgrader := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Identity is trusted from the upstream application; origin
		// filtering happens at its edge, not here.
		CheckOrigin:       func(r *http.Request) bool { return true },
		EnableCompression: true,
	}

	promRegistry := prometheus.NewRegistry()
	hubMetrics := metrics.New(promRegistry)

	registry := hub.NewInMemoryRegistry(logger, hubMetrics)
	authenticator := auth.NewAuthenticator(settings.JWTSecret, settings.APIKeys)
	channelValidator := handler.NewChannelValidator()

	authenticateHandler := handler.NewAuthenticateHandler(authenticator)
	subscribeHandler := handler.NewSubscribeHandler(channelValidator, registry)
	unsubscribeHandler := handler.NewUnsubscribeHandler(channelValidator, registry)
	heartbeatHandler := handler.NewHeartbeatHandler()
	relayHandler := handler.NewRelayHandler(registry)
	collaborationHandler := handler.NewCollaborationHandler(registry)

	router := server.NewRouter(
		logger,
		hubMetrics,
		authenticateHandler,
		subscribeHandler,
		unsubscribeHandler,
		heartbeatHandler,
		relayHandler,
		collaborationHandler,
	)

	websocketServer := server.NewWebSocketServer(
		logger,
		websocketUpgrader,
		registry,
		router,
		settings.ReadLimitBytes,
		settings.SendBufferSize,
	)
	restServer := server.NewRESTServer(
		logger,
		relayHandler,
		authenticator,
	)
	monitor := liveness.NewMonitor(
		logger,
		registry,
		hubMetrics,
		time.Duration(settings.HeartbeatIntervalSeconds)*time.Second,
		time.Duration(settings.SweepIntervalSeconds)*time.Second,
		time.Duration(settings.HeartbeatTimeoutSeconds)*time.Second,
	)

	return &App{
		logger:          logger,
		settings:        settings,
		registry:        registry,
		websocketServer: websocketServer,
		restServer:      restServer,
		monitor:         monitor,
		promRegistry:    promRegistry,
	}
}

func (a *App) run(ctx context.Context) error {
	notifyCtx, notifyCtxCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer notifyCtxCancel()

	address := fmt.Sprintf("0.0.0.0:%d", a.settings.Port)

	router := mux.NewRouter().
		PathPrefix(a.settings.BasePath).
		Subrouter()

	a.websocketServer.Register(router)
	a.restServer.Register(router)
	router.Handle("/metrics", promhttp.HandlerFor(a.promRegistry, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:    address,
		Handler: router,
	}

	go a.monitor.Run(notifyCtx)

	a.logger.Info("starting http server",
		zap.String("address", address))

	go func() {
		err := httpServer.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("failed to start http server",
				zap.Error(err))
		}
	}()

	<-notifyCtx.Done()

	a.logger.Info("stopping http server")

	shutdownCtx, shutdownCtxCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCtxCancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		return err
	}

	// Drain: every open connection gets a normal-closure frame.
	a.registry.CloseAll()

	a.logger.Info("http server stopped")

	return nil
}

func main() {
	ctx := context.Background()

	var settings Settings
	_, err := env.UnmarshalFromEnviron(&settings)
	if err != nil {
		panic(err)
	}

	logger, err := buildZapLogger(settings.LogEncoding)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	app := NewApp(logger, settings)

	err = app.run(ctx)
	if err != nil {
		logger.Fatal("shutdown failed", zap.Error(err))
	}
}
