package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/NASA-0007/Rosaiq-Trial/internal/store"
	apperr "github.com/NASA-0007/Rosaiq-Trial/pkg/errors"
	"github.com/NASA-0007/Rosaiq-Trial/pkg/roles"
	"github.com/google/uuid"
)

var ErrForbidden = fmt.Errorf("%w: you do not have access to this device", apperr.ErrForbidden)

// Principal is the dashboard user behind a request.
type Principal struct {
	UserID   uuid.UUID
	Username string
	Role     string
}

func IsAdmin(p Principal) bool {
	return roles.HasPermission(p.Role, roles.Admin)
}

type Publisher interface {
	Publish(ev *store.Event)
}

// Gate decides which dashboard user may see or change which device.
type Gate struct {
	Repo   *store.Repo
	Events Publisher
}

// Owns reports whether userID owns deviceID. Unknown devices are owned by nobody.
func (g *Gate) Owns(ctx context.Context, userID uuid.UUID, deviceID string) (bool, error) {
	dev, err := g.Repo.GetDevice(ctx, deviceID)
	if errors.Is(err, store.ErrDeviceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return dev.OwnerID != nil && *dev.OwnerID == userID, nil
}

// AuthorizeDevice returns the device when p is an admin or its owner. A
// standard user gets Forbidden for devices that do not exist, so device ids
// cannot be probed.
func (g *Gate) AuthorizeDevice(ctx context.Context, p Principal, deviceID string) (*store.Device, error) {
	dev, err := g.Repo.GetDevice(ctx, deviceID)
	if IsAdmin(p) {
		return dev, err
	}
	if errors.Is(err, store.ErrDeviceNotFound) {
		return nil, ErrForbidden
	}
	if err != nil {
		return nil, err
	}
	if dev.OwnerID == nil || *dev.OwnerID != p.UserID {
		return nil, ErrForbidden
	}
	return dev, nil
}

// Scope restricts listings: nil for admins (everything), the user's id otherwise.
func Scope(p Principal) *uuid.UUID {
	if IsAdmin(p) {
		return nil
	}
	id := p.UserID
	return &id
}

func (g *Gate) Claim(ctx context.Context, p Principal, serial string) (*store.Device, error) {
	dev, err := g.Repo.ClaimDevice(ctx, serial, p.UserID)
	if err != nil {
		return nil, err
	}
	slog.Info("device claimed", "device_id", dev.DeviceID, "user", p.Username)
	g.audit(ctx, dev.DeviceID, store.EventDeviceClaimed, map[string]any{"user_id": p.UserID, "username": p.Username})
	return dev, nil
}

func (g *Gate) Assign(ctx context.Context, p Principal, deviceID string, userID uuid.UUID) (*store.Device, error) {
	if !IsAdmin(p) {
		return nil, fmt.Errorf("%w: admin access required", apperr.ErrForbidden)
	}
	dev, err := g.Repo.AssignDevice(ctx, deviceID, userID)
	if err != nil {
		return nil, err
	}
	g.audit(ctx, deviceID, store.EventDeviceAssigned, map[string]any{"user_id": userID, "by": p.Username})
	return dev, nil
}

func (g *Gate) Unassign(ctx context.Context, p Principal, deviceID string) (*store.Device, error) {
	if !IsAdmin(p) {
		return nil, fmt.Errorf("%w: admin access required", apperr.ErrForbidden)
	}
	dev, err := g.Repo.UnassignDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	g.audit(ctx, deviceID, store.EventDeviceUnassigned, map[string]any{"by": p.Username})
	return dev, nil
}

func (g *Gate) audit(ctx context.Context, deviceID, eventType string, data map[string]any) {
	ev, err := g.Repo.RecordEvent(ctx, deviceID, eventType, data)
	if err != nil {
		slog.Warn("access event append failed", "device_id", deviceID, "type", eventType, "error", err)
		return
	}
	if g.Events != nil {
		g.Events.Publish(ev)
	}
}
