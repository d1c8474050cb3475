package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stockroom/internal/apperror"
	"stockroom/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Caller identifies the authenticated user behind a service call
type Caller struct {
	ID   uuid.UUID
	Role model.Role
	IP   string
}

func (c Caller) IsAdmin() bool {
	return c.Role.IsAdmin()
}

func (c Caller) auditUserID() *uuid.UUID {
	if c.ID == uuid.Nil {
		return nil
	}
	id := c.ID
	return &id
}

// EventPublisher receives live events after a change has committed.
// PublishTo limits the audience to admins and the owning user.
type EventPublisher interface {
	Publish(event string, data interface{})
	PublishTo(event string, ownerID uuid.UUID, data interface{})
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, interface{}) {}

func (noopPublisher) PublishTo(string, uuid.UUID, interface{}) {}

func publisherOrNoop(p EventPublisher) EventPublisher {
	if p == nil {
		return noopPublisher{}
	}
	return p
}

// parseID treats an id that is not a UUID like any other id that resolves to nothing
func parseID(raw, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperror.NotFound("%s not found", what)
	}
	return id, nil
}

// notFoundOr maps gorm.ErrRecordNotFound to a NotFound error and wraps anything else
func notFoundOr(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.NotFound(format, args...)
	}
	return fmt.Errorf("database error: %w", err)
}

func marshalDetails(v interface{}) string {
	details, _ := json.Marshal(v)
	return string(details)
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
