// Package server exposes the published pull request list over HTTP.
package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/marcin-skalski/prwatch/internal/daemon"
	"github.com/marcin-skalski/prwatch/internal/pr"
)

// Controller is the subset of daemon.Controller the API needs.
type Controller interface {
	Snapshot() daemon.Snapshot
	Refresh() bool
	Watch(id string)
	Unwatch(id string)
}

type Server struct {
	app    *fiber.App
	ctrl   Controller
	logger *slog.Logger
}

func New(ctrl Controller, logger *slog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
	})
	s := &Server{app: app, ctrl: ctrl, logger: logger}

	app.Use(recover.New())
	app.Use(s.requestLogger)

	app.Get("/healthz", s.health)
	api := app.Group("/api")
	api.Get("/items", s.items)
	api.Post("/refresh", s.refresh)
	api.Put("/watch/:owner/:repo/:number", s.watch)
	api.Delete("/watch/:owner/:repo/:number", s.unwatch)

	return s
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen(addr string) error {
	s.logger.Info("http api listening", "addr", addr)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Debug("http request",
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"took", time.Since(start).Round(time.Microsecond))
	return err
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) health(c *fiber.Ctx) error {
	snap := s.ctrl.Snapshot()
	if !snap.Available {
		return c.Status(http.StatusServiceUnavailable).JSON(errorResponse{Error: snap.Error})
	}
	return c.SendStatus(http.StatusOK)
}

func (s *Server) items(c *fiber.Ctx) error {
	return c.JSON(s.ctrl.Snapshot())
}

func (s *Server) refresh(c *fiber.Ctx) error {
	if !s.ctrl.Refresh() {
		return c.Status(http.StatusConflict).JSON(errorResponse{Error: "refresh already in progress or polling not started"})
	}
	return c.SendStatus(http.StatusAccepted)
}

func (s *Server) watch(c *fiber.Ctx) error {
	id, err := itemID(c)
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	}
	s.ctrl.Watch(id)
	return c.JSON(fiber.Map{"id": id, "watched": true})
}

func (s *Server) unwatch(c *fiber.Ctx) error {
	id, err := itemID(c)
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	}
	s.ctrl.Unwatch(id)
	return c.JSON(fiber.Map{"id": id, "watched": false})
}

func itemID(c *fiber.Ctx) (string, error) {
	n, err := strconv.Atoi(c.Params("number"))
	if err != nil || n <= 0 {
		return "", fiber.NewError(http.StatusBadRequest, "invalid pull request number")
	}
	return pr.Key(c.Params("owner")+"/"+c.Params("repo"), n), nil
}
