package httpserver

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pscheid92/roomcast/internal/adapter/redis"
	"github.com/pscheid92/roomcast/internal/domain"
	"github.com/pscheid92/roomcast/internal/version"
)

const maxRoomIDLength = 128

type roomDetailResponse struct {
	RoomID  string             `json:"roomId"`
	Members int                `json:"members"`
	Policy  *domain.RoomPolicy `json:"policy,omitempty"`
}

type setPolicyRequest struct {
	MaxMembers int `json:"max_members"`
}

func (s *Server) handleListRooms(c echo.Context) error {
	rooms := s.rooms.List()
	if rooms == nil {
		rooms = []domain.RoomInfo{}
	}

	if err := c.JSON(http.StatusOK, map[string]any{"rooms": rooms}); err != nil {
		return fmt.Errorf("failed to write rooms response: %w", err)
	}
	return nil
}

func (s *Server) handleGetRoom(c echo.Context) error {
	roomID := c.Param("id")
	if err := validateRoomID(roomID); err != nil {
		return err
	}

	members := s.rooms.Members(roomID)
	if len(members) == 0 {
		// Rooms exist only while occupied.
		return echo.NewHTTPError(http.StatusNotFound, "room not found")
	}

	response := roomDetailResponse{RoomID: roomID, Members: len(members)}

	policy, err := s.policies.ResolvePolicy(c.Request().Context(), roomID)
	if err == nil {
		response.Policy = &policy
	} else if !errors.Is(err, domain.ErrPolicyNotFound) {
		return fmt.Errorf("failed to resolve room policy: %w", err)
	}

	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write room response: %w", err)
	}
	return nil
}

func (s *Server) handleListInstances(c echo.Context) error {
	if s.instances == nil {
		// Single-instance deployment without Redis: report ourselves.
		local := []redis.InstanceInfo{{
			InstanceID:  s.instanceID,
			Timestamp:   s.startTime.Unix(),
			Version:     version.Get().Version,
			Connections: s.connections.Len(),
		}}
		if err := c.JSON(http.StatusOK, map[string]any{"instances": local}); err != nil {
			return fmt.Errorf("failed to write instances response: %w", err)
		}
		return nil
	}

	instances, err := s.instances.ActiveInstances(c.Request().Context())
	if err != nil {
		return fmt.Errorf("failed to list instances: %w", err)
	}

	if err := c.JSON(http.StatusOK, map[string]any{"instances": instances}); err != nil {
		return fmt.Errorf("failed to write instances response: %w", err)
	}
	return nil
}

func (s *Server) handleListPolicies(c echo.Context) error {
	policies, err := s.policies.ListPolicies(c.Request().Context())
	if err != nil {
		return fmt.Errorf("failed to list policies: %w", err)
	}
	if policies == nil {
		policies = []domain.RoomPolicy{}
	}

	if err := c.JSON(http.StatusOK, map[string]any{"policies": policies}); err != nil {
		return fmt.Errorf("failed to write policies response: %w", err)
	}
	return nil
}

func (s *Server) handleSetPolicy(c echo.Context) error {
	roomID := c.Param("id")
	if err := validateRoomID(roomID); err != nil {
		return err
	}

	var req setPolicyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.MaxMembers < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "max_members must not be negative")
	}

	policy, err := s.policies.SetPolicy(c.Request().Context(), roomID, req.MaxMembers)
	if errors.Is(err, domain.ErrPolicyNotFound) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "policy storage not configured")
	}
	if err != nil {
		return fmt.Errorf("failed to set room policy: %w", err)
	}

	if err := c.JSON(http.StatusOK, policy); err != nil {
		return fmt.Errorf("failed to write policy response: %w", err)
	}
	return nil
}

func (s *Server) handleRemovePolicy(c echo.Context) error {
	roomID := c.Param("id")
	if err := validateRoomID(roomID); err != nil {
		return err
	}

	if err := s.policies.RemovePolicy(c.Request().Context(), roomID); err != nil {
		return fmt.Errorf("failed to remove room policy: %w", err)
	}

	return c.NoContent(http.StatusNoContent)
}

func validateRoomID(roomID string) error {
	if roomID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "room ID must not be empty")
	}
	if len(roomID) > maxRoomIDLength {
		return echo.NewHTTPError(http.StatusBadRequest, "room ID too long")
	}
	return nil
}
