package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/instacab/dispatch/internal/pkg/backend"
	"github.com/instacab/dispatch/internal/pkg/config"
	"github.com/instacab/dispatch/internal/pkg/constants"
	"github.com/instacab/dispatch/internal/pkg/database"
	"github.com/instacab/dispatch/internal/pkg/eta"
	"github.com/instacab/dispatch/internal/pkg/logger"
	"github.com/instacab/dispatch/internal/pkg/nsq"
	"github.com/instacab/dispatch/internal/pkg/pubsub"
	"github.com/instacab/dispatch/internal/pkg/repository"
	"github.com/instacab/dispatch/internal/pkg/token"
	"github.com/instacab/dispatch/internal/pkg/ws"
	"github.com/instacab/dispatch/services/clients"
	"github.com/instacab/dispatch/services/dispatch"
	"github.com/instacab/dispatch/services/drivers"
	"github.com/instacab/dispatch/services/trips"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func main() {
	cfg := config.InitConfig(".env")

	appLogger, err := logger.NewAppLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer appLogger.Close()
	logger.SetGlobalLogger(appLogger)

	logger.Info("starting dispatch", logger.Fields{
		"app":         cfg.App.Name,
		"environment": cfg.App.Environment,
		"version":     cfg.App.Version,
	})

	pg, err := database.NewPostgresClient(cfg.Database)
	if err != nil {
		logger.Error("failed to connect to postgres", logger.Fields{"error": err.Error()})
		os.Exit(1)
	}
	defer pg.Close()

	rds, err := database.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Error("failed to connect to redis", logger.Fields{"error": err.Error()})
		os.Exit(1)
	}
	defer rds.Close()
	bus := pubsub.NewRedisBus(rds.GetClient())

	var events trips.EventPublisher
	if cfg.NSQ.Enabled {
		producer, err := nsq.NewProducer(cfg.NSQ.Address)
		if err != nil {
			logger.Error("failed to connect to NSQ", logger.Fields{"error": err.Error()})
			os.Exit(1)
		}
		defer producer.Stop()
		events = producer
	}

	var distance eta.Service
	if cfg.Maps.Enabled {
		distance, err = eta.NewGoogleService(cfg.Maps.APIKey)
		if err != nil {
			logger.Error("failed to create maps client", logger.Fields{"error": err.Error()})
			os.Exit(1)
		}
	}
	estimator := eta.NewEstimator(distance)

	db := pg.GetDB()
	driverCache := repository.NewCache[*drivers.Driver](
		drivers.NewStore(db), bus, constants.BusTopic(constants.ChannelDrivers))
	clientCache := repository.NewCache[*clients.Client](
		clients.NewStore(db), bus, constants.BusTopic(constants.ChannelClients))
	tripCache := repository.NewCache[*trips.Trip](
		trips.NewStore(db), bus, constants.BusTopic(constants.ChannelTrips))

	api := backend.NewClient(cfg.Backend)
	issuer := token.NewIssuer(cfg.JWT)
	matcher := drivers.NewMatcher(driverCache, estimator)
	tripService := trips.NewService(driverCache, clientCache, tripCache, matcher, estimator, api, events)
	defer tripService.Stop()

	dispatcher := dispatch.NewDispatcher(
		driverCache, clientCache, tripCache, matcher, tripService, api, issuer, bus, events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dispatcher.Hydrate(ctx); err != nil {
		logger.Error("failed to hydrate caches", logger.Fields{"error": err.Error()})
		os.Exit(1)
	}

	go func() {
		if err := dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("channel fan-out stopped", logger.Fields{"error": err.Error()})
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	e.GET("/ws", func(c echo.Context) error {
		raw, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}

		conn := ws.NewConn(raw)
		go readLoop(ctx, dispatcher, conn, raw)
		return nil
	})

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped", logger.Fields{"error": err.Error()})
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("shutting down", nil)
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down server", logger.Fields{"error": err.Error()})
	}
}

// readLoop pumps inbound frames into the dispatcher until the connection
// drops
func readLoop(ctx context.Context, d *dispatch.Dispatcher, conn *ws.Conn, raw *websocket.Conn) {
	defer conn.Close()

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			return
		}
		d.ProcessMessage(ctx, conn, data)
	}
}
