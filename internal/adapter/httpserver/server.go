// Package httpserver is the Echo shell around the connection core: the
// websocket endpoint, health and version probes, Prometheus metrics, and
// the admin API for rooms, instances, and policies.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pscheid92/roomcast/internal/adapter/redis"
	"github.com/pscheid92/roomcast/internal/domain"
	"github.com/pscheid92/roomcast/internal/platform/config"
)

// policyService is the slice of the application service the admin API
// needs.
type policyService interface {
	ResolvePolicy(ctx context.Context, roomID string) (domain.RoomPolicy, error)
	SetPolicy(ctx context.Context, roomID string, maxMembers int) (*domain.RoomPolicy, error)
	RemovePolicy(ctx context.Context, roomID string) error
	ListPolicies(ctx context.Context) ([]domain.RoomPolicy, error)
}

// roomLister reads the live room table.
type roomLister interface {
	List() []domain.RoomInfo
	Members(roomID string) []uuid.UUID
}

// instanceLister reads the cross-instance registry. Nil when running
// without Redis.
type instanceLister interface {
	ActiveInstances(ctx context.Context) ([]redis.InstanceInfo, error)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	policies  policyService
	rooms     roomLister
	instances instanceLister

	websocketHandler echo.HandlerFunc

	instanceID   string
	connections  interface{ Len() int }
	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg *config.Config, policies policyService, rooms roomLister, instances instanceLister, websocketHandler echo.HandlerFunc, instanceID string, connections interface{ Len() int }, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:             e,
		config:           cfg,
		policies:         policies,
		rooms:            rooms,
		instances:        instances,
		websocketHandler: websocketHandler,
		instanceID:       instanceID,
		connections:      connections,
		healthChecks:     healthChecks,
		startTime:        time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
