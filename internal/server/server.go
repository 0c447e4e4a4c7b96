package server

import (
	"context"
	"encoding/json"

	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/auth"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/clock"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/config"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/connectivity"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/db"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/history"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/location"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/monitor"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/notify"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/rules"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/session"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/stream"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/weather"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App     *fiber.App
	Cfg     config.Config
	DB      db.Querier
	Redis   *redis.Client
	Stream  *stream.Hub
	Tracker *location.TrackerProvider
	Coord   *monitor.Coordinator
	Monitor *monitor.Runtime
}

func NewServer(cfg config.Config, q db.Querier, redisClient *redis.Client) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	hub := stream.NewHub(redisClient)
	sched := clock.System{}
	machine := connectivity.NewMachine(sched)
	tracker := location.NewTrackerProvider(redisClient, cfg.VehicleID)

	notifier := notify.NewWebhook(cfg.NotifyWebhookURL, sched)
	notifier.Mirror = func(a notify.Alert) {
		payload, err := json.Marshal(a)
		if err != nil {
			return
		}
		hub.Broadcast(cfg.VehicleID, payload)
	}

	authSvc := auth.NewService(cfg.JWTSecret, q)

	runtime := monitor.NewRuntime(monitor.Deps{
		VehicleID: cfg.VehicleID,
		Scheduler: sched,
		Machine:   machine,
		States:    monitor.NewPostgresStateStore(q),
		Provider:  tracker,
		Rules:     rules.NewClient(cfg.RulesAPIURL),
		History:   history.NewService(q),
		Sessions:  session.NewClient(cfg.SessionAPIURL),
		Notifier:  notifier,
		Weather:   weather.NewClient(cfg.WeatherAPIURL),
		Dedup:     monitor.NewDeduper(redisClient, sched),
		Zones:     authSvc,
	})

	coord := monitor.NewCoordinator(machine,
		monitor.NewRedisPush(redisClient, cfg.VehicleID),
		monitor.NewRedisStatusProbe(redisClient, cfg.VehicleID),
		sched)

	s := &Server{
		App:     app,
		Cfg:     cfg,
		DB:      q,
		Redis:   redisClient,
		Stream:  hub,
		Tracker: tracker,
		Coord:   coord,
		Monitor: runtime,
	}

	registerRoutes(s, authSvc)
	return s
}

// Start brings up the monitor runtime and the signal channels.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Monitor.Start(ctx); err != nil {
		return err
	}
	s.Coord.Start(ctx)
	return nil
}

func (s *Server) Stop() {
	s.Coord.Stop()
	s.Monitor.Stop()
}

func registerRoutes(s *Server, authSvc *auth.Service) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	auth.RegisterRoutes(s.App.Group("/auth"), authSvc)
	monitor.RegisterSignalRoutes(s.App.Group("/signals"), s.Coord, jwtMiddleware)
	monitor.RegisterReportRoutes(s.App.Group("/reports"), s.Tracker, jwtMiddleware)
	monitor.RegisterRoutes(s.App.Group("/monitor"), s.Monitor, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}
