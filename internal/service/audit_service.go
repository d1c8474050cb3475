package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"stockroom/internal/apperror"
	"stockroom/internal/model"
	"stockroom/internal/repository"
	"stockroom/pkg/pagination"

	"github.com/google/uuid"
)

type AuditLogResponse struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
	Action     string `json:"action"`
	EntityID   string `json:"entity_id"`
	EntityName string `json:"entity_name"`
	Details    string `json:"details"`
	IPAddress  string `json:"ip_address"`
	CreatedAt  string `json:"created_at"`
}

// AuditQuery selects a slice of the trail. Security restricts it to login events
// and is combined with Action when both are given.
type AuditQuery struct {
	Page     int
	Limit    int
	Action   string
	UserID   string
	EntityID string
	Security bool
}

type AuditService interface {
	GetAuditLogs(ctx context.Context, query AuditQuery) ([]AuditLogResponse, int64, error)
}

type auditService struct {
	repo repository.AuditRepository
}

// NewAuditService creates a new AuditService instance
func NewAuditService(repo repository.AuditRepository) AuditService {
	return &auditService{repo: repo}
}

// GetAuditLogs returns one page of the trail, newest first. Entries without a user
// (failed logins for unknown names) are attributed to "anonymous".
func (s *auditService) GetAuditLogs(ctx context.Context, query AuditQuery) ([]AuditLogResponse, int64, error) {
	p := pagination.Normalize(query.Page, query.Limit)

	filter, err := buildAuditFilter(query)
	if err != nil {
		return nil, 0, err
	}

	logs, total, err := s.repo.List(ctx, filter, p.Page, p.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audit logs: %w", err)
	}

	res := make([]AuditLogResponse, 0, len(logs))
	for _, l := range logs {
		username := "anonymous"
		userID := ""
		if l.User != nil {
			username = l.User.Username
		}
		if l.UserID != nil {
			userID = l.UserID.String()
		}

		res = append(res, AuditLogResponse{
			ID:         l.ID.String(),
			UserID:     userID,
			Username:   username,
			Action:     l.Action,
			EntityID:   l.EntityID,
			EntityName: l.EntityName,
			Details:    l.Details,
			IPAddress:  l.IPAddress,
			CreatedAt:  formatTime(l.CreatedAt),
		})
	}

	return res, total, nil
}

func buildAuditFilter(query AuditQuery) (repository.AuditFilter, error) {
	filter := repository.AuditFilter{EntityID: strings.TrimSpace(query.EntityID)}

	action := strings.ToUpper(strings.TrimSpace(query.Action))
	switch {
	case query.Security && action != "":
		if !slices.Contains(model.SecurityActions, action) {
			return filter, apperror.Validation("action %s is not a security event", action)
		}
		filter.Actions = []string{action}
	case query.Security:
		filter.Actions = model.SecurityActions
	case action != "":
		filter.Actions = []string{action}
	}

	if raw := strings.TrimSpace(query.UserID); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, apperror.Validation("user_id must be a UUID")
		}
		filter.UserID = &id
	}
	return filter, nil
}
