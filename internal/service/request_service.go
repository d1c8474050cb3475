package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockroom/internal/apperror"
	"stockroom/internal/metrics"
	"stockroom/internal/model"
	"stockroom/internal/repository"
	ws "stockroom/internal/websocket"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// --- DTOs ---

type CreateRequestDTO struct {
	MaterialID        string `json:"material_id" binding:"required"`
	RequestedQuantity int    `json:"requested_quantity"`
	Notes             string `json:"notes"`
}

type EditRequestDTO struct {
	RequestedQuantity int    `json:"requested_quantity"`
	Notes             string `json:"notes"`
}

type ProcessRequestDTO struct {
	Status     string `json:"status" binding:"required"`
	AdminNotes string `json:"admin_notes"`
}

// MaterialRequestResponse carries the joined display fields used by list views
type MaterialRequestResponse struct {
	ID                string  `json:"id"`
	RequesterID       string  `json:"requester_id"`
	RequesterUsername string  `json:"requester_username"`
	RequesterName     string  `json:"requester_name"`
	MaterialID        string  `json:"material_id"`
	MaterialName      string  `json:"material_name"`
	MaterialCategory  string  `json:"material_category"`
	CurrentQuantity   int     `json:"current_quantity"`
	RequestedQuantity int     `json:"requested_quantity"`
	Status            string  `json:"status"`
	Notes             string  `json:"notes"`
	AdminNotes        string  `json:"admin_notes"`
	ProcessedBy       *string `json:"processed_by"`
	ProcessorName     string  `json:"processor_name"`
	CreatedAt         string  `json:"created_at"`
	ProcessedAt       *string `json:"processed_at"`
}

// --- Interface ---

// RequestService owns material requests from creation to resolution.
// Approving a request is the only path that draws stock down.
type RequestService interface {
	Create(ctx context.Context, caller Caller, req CreateRequestDTO) (MaterialRequestResponse, error)
	Edit(ctx context.Context, caller Caller, id string, req EditRequestDTO) (MaterialRequestResponse, error)
	Process(ctx context.Context, caller Caller, id string, req ProcessRequestDTO) (MaterialRequestResponse, error)
	Delete(ctx context.Context, caller Caller, id string) error
	List(ctx context.Context, caller Caller) ([]MaterialRequestResponse, error)
	History(ctx context.Context, caller Caller, userID string) ([]MaterialRequestResponse, error)
	Stats(ctx context.Context, caller Caller) (model.RequestStats, error)
}

type requestService struct {
	requestRepo  repository.RequestRepository
	materialRepo repository.MaterialRepository
	auditRepo    repository.AuditRepository
	txManager    repository.TransactionManager
	events       EventPublisher
	metrics      *metrics.Metrics
	log          *zap.Logger
	now          func() time.Time
}

func NewRequestService(
	requestRepo repository.RequestRepository,
	materialRepo repository.MaterialRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	events EventPublisher,
	m *metrics.Metrics,
	log *zap.Logger,
) RequestService {
	if log == nil {
		log = zap.NewNop()
	}
	return &requestService{
		requestRepo:  requestRepo,
		materialRepo: materialRepo,
		auditRepo:    auditRepo,
		txManager:    txManager,
		events:       publisherOrNoop(events),
		metrics:      m,
		log:          log.Named("requests"),
		now:          time.Now,
	}
}

// --- Implementation ---

func (s *requestService) Create(ctx context.Context, caller Caller, req CreateRequestDTO) (MaterialRequestResponse, error) {
	materialID, err := parseID(req.MaterialID, "material")
	if err != nil {
		return MaterialRequestResponse{}, err
	}
	if req.RequestedQuantity < 1 {
		return MaterialRequestResponse{}, apperror.Validation("requested_quantity must be at least 1")
	}

	mr := model.MaterialRequest{
		RequesterID:       caller.ID,
		MaterialID:        materialID,
		RequestedQuantity: req.RequestedQuantity,
		Status:            model.RequestPending,
		Notes:             req.Notes,
		CreatedAt:         s.now(),
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		material, err := s.materialRepo.FindByID(txCtx, materialID)
		if err != nil {
			return notFoundOr(err, "material not found")
		}

		if err := s.requestRepo.Create(txCtx, &mr); err != nil {
			return fmt.Errorf("failed to create material request: %w", err)
		}

		audit := &model.AuditLog{
			UserID:     caller.auditUserID(),
			Action:     model.ActionCreateRequest,
			EntityID:   mr.ID.String(),
			EntityName: material.Name,
			IPAddress:  caller.IP,
			Details: marshalDetails(map[string]interface{}{
				"material_id":        material.ID.String(),
				"requested_quantity": mr.RequestedQuantity,
				"notes":              mr.Notes,
			}),
		}
		if err := s.auditRepo.Log(txCtx, audit); err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}
		return nil
	})
	if err != nil {
		return MaterialRequestResponse{}, err
	}

	if s.metrics != nil {
		s.metrics.RequestsCreated.Inc()
	}
	s.log.Info("request created",
		zap.String("request_id", mr.ID.String()),
		zap.String("requester_id", caller.ID.String()),
		zap.Int("quantity", mr.RequestedQuantity),
	)

	res, err := s.reload(ctx, mr)
	if err != nil {
		return MaterialRequestResponse{}, err
	}
	s.events.PublishTo(ws.EventRequestCreated, mr.RequesterID, res)
	return res, nil
}

func (s *requestService) Edit(ctx context.Context, caller Caller, id string, req EditRequestDTO) (MaterialRequestResponse, error) {
	requestID, err := parseID(id, "request")
	if err != nil {
		return MaterialRequestResponse{}, err
	}

	var mr *model.MaterialRequest
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		mr, err = s.requestRepo.FindByID(txCtx, requestID)
		if err != nil {
			return notFoundOr(err, "request not found")
		}
		if mr.RequesterID != caller.ID {
			return apperror.Permission("only the requester can edit this request")
		}
		if mr.Status != model.RequestPending {
			return apperror.Conflict("request already processed")
		}
		if req.RequestedQuantity < 1 {
			return apperror.Validation("requested_quantity must be at least 1")
		}

		updated, err := s.requestRepo.UpdatePending(txCtx, requestID, req.RequestedQuantity, req.Notes)
		if err != nil {
			return fmt.Errorf("failed to update material request: %w", err)
		}
		if !updated {
			return apperror.Conflict("request already processed")
		}

		audit := &model.AuditLog{
			UserID:    caller.auditUserID(),
			Action:    model.ActionEditRequest,
			EntityID:  requestID.String(),
			IPAddress: caller.IP,
			Details: marshalDetails(map[string]interface{}{
				"old_quantity": mr.RequestedQuantity,
				"new_quantity": req.RequestedQuantity,
				"notes":        req.Notes,
			}),
		}
		if err := s.auditRepo.Log(txCtx, audit); err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}

		mr.RequestedQuantity = req.RequestedQuantity
		mr.Notes = req.Notes
		return nil
	})
	if err != nil {
		return MaterialRequestResponse{}, err
	}

	res, err := s.reload(ctx, *mr)
	if err != nil {
		return MaterialRequestResponse{}, err
	}
	s.events.PublishTo(ws.EventRequestUpdated, mr.RequesterID, res)
	return res, nil
}

func (s *requestService) Process(ctx context.Context, caller Caller, id string, req ProcessRequestDTO) (MaterialRequestResponse, error) {
	if !caller.IsAdmin() {
		return MaterialRequestResponse{}, apperror.Permission("only admins can process requests")
	}

	decision := model.RequestStatus(req.Status)
	if decision != model.RequestApproved && decision != model.RequestRejected {
		return MaterialRequestResponse{}, apperror.Validation("status must be %q or %q", model.RequestApproved, model.RequestRejected)
	}

	requestID, err := parseID(id, "request")
	if err != nil {
		return MaterialRequestResponse{}, err
	}

	var mr *model.MaterialRequest
	processedAt := s.now()
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		mr, err = s.requestRepo.FindByID(txCtx, requestID)
		if err != nil {
			return notFoundOr(err, "request not found")
		}
		if mr.Status != model.RequestPending {
			return apperror.Conflict("request already processed")
		}

		resolved, err := s.requestRepo.Resolve(txCtx, requestID, repository.RequestResolution{
			Status:      decision,
			ProcessedBy: caller.ID,
			ProcessedAt: processedAt,
			AdminNotes:  req.AdminNotes,
		})
		if err != nil {
			return fmt.Errorf("failed to resolve material request: %w", err)
		}
		if !resolved {
			return apperror.Conflict("request already processed")
		}

		if decision == model.RequestApproved {
			deducted, err := s.materialRepo.DeductStock(txCtx, mr.MaterialID, mr.RequestedQuantity)
			if err != nil {
				return fmt.Errorf("failed to deduct stock: %w", err)
			}
			if !deducted {
				material, err := s.materialRepo.FindByID(txCtx, mr.MaterialID)
				if err != nil {
					return notFoundOr(err, "material no longer exists")
				}
				return apperror.InsufficientStock("insufficient stock: %d available, %d requested",
					material.Quantity, mr.RequestedQuantity)
			}
		}

		action := model.ActionRejectRequest
		if decision == model.RequestApproved {
			action = model.ActionApproveRequest
		}
		audit := &model.AuditLog{
			UserID:    caller.auditUserID(),
			Action:    action,
			EntityID:  requestID.String(),
			IPAddress: caller.IP,
			Details: marshalDetails(map[string]interface{}{
				"material_id":        mr.MaterialID.String(),
				"requester_id":       mr.RequesterID.String(),
				"requested_quantity": mr.RequestedQuantity,
				"admin_notes":        req.AdminNotes,
			}),
		}
		if err := s.auditRepo.Log(txCtx, audit); err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}
		return nil
	})
	if err != nil {
		s.recordProcessFailure(requestID.String(), err)
		return MaterialRequestResponse{}, err
	}

	if s.metrics != nil {
		s.metrics.RequestsProcessed.WithLabelValues(string(decision)).Inc()
		if decision == model.RequestApproved {
			s.metrics.StockDeducted.Add(float64(mr.RequestedQuantity))
		}
	}
	s.log.Info("request processed",
		zap.String("request_id", requestID.String()),
		zap.String("decision", string(decision)),
		zap.String("admin_id", caller.ID.String()),
	)

	res, err := s.reload(ctx, *mr)
	if err != nil {
		return MaterialRequestResponse{}, err
	}
	s.events.PublishTo(ws.EventRequestProcessed, mr.RequesterID, res)
	if decision == model.RequestApproved {
		s.events.Publish(ws.EventMaterialStockMoved, map[string]interface{}{
			"material_id": res.MaterialID,
			"quantity":    res.CurrentQuantity,
		})
	}
	return res, nil
}

func (s *requestService) recordProcessFailure(requestID string, err error) {
	reason := ""
	switch {
	case errors.Is(err, apperror.ErrConflict):
		reason = "conflict"
	case errors.Is(err, apperror.ErrInsufficientStock):
		reason = "insufficient_stock"
	case errors.Is(err, apperror.ErrNotFound):
		reason = "not_found"
	default:
		s.log.Error("process failed", zap.String("request_id", requestID), zap.Error(err))
		return
	}
	s.log.Warn("process refused", zap.String("request_id", requestID), zap.String("reason", reason))
	if s.metrics != nil {
		s.metrics.RequestsRejected.WithLabelValues(reason).Inc()
	}
}

func (s *requestService) Delete(ctx context.Context, caller Caller, id string) error {
	requestID, err := parseID(id, "request")
	if err != nil {
		return err
	}

	var ownerID uuid.UUID
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		mr, err := s.requestRepo.FindByID(txCtx, requestID)
		if err != nil {
			return notFoundOr(err, "request not found")
		}
		ownerID = mr.RequesterID

		var deleted bool
		if caller.IsAdmin() {
			deleted, err = s.requestRepo.Delete(txCtx, requestID)
		} else {
			if mr.RequesterID != caller.ID {
				return apperror.Permission("you can only delete your own requests")
			}
			if mr.Status != model.RequestPending {
				return apperror.Conflict("only pending requests can be deleted")
			}
			deleted, err = s.requestRepo.DeletePending(txCtx, requestID)
		}
		if err != nil {
			return fmt.Errorf("failed to delete material request: %w", err)
		}
		if !deleted && caller.IsAdmin() {
			return apperror.NotFound("request not found")
		}
		if !deleted {
			return apperror.Conflict("request already processed")
		}

		audit := &model.AuditLog{
			UserID:    caller.auditUserID(),
			Action:    model.ActionDeleteRequest,
			EntityID:  requestID.String(),
			IPAddress: caller.IP,
			Details: marshalDetails(map[string]interface{}{
				"status":             mr.Status,
				"material_id":        mr.MaterialID.String(),
				"requested_quantity": mr.RequestedQuantity,
			}),
		}
		if err := s.auditRepo.Log(txCtx, audit); err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.events.PublishTo(ws.EventRequestDeleted, ownerID, map[string]string{"id": requestID.String()})
	return nil
}

func (s *requestService) List(ctx context.Context, caller Caller) ([]MaterialRequestResponse, error) {
	var (
		requests []model.MaterialRequest
		err      error
	)
	if caller.IsAdmin() {
		requests, err = s.requestRepo.ListAll(ctx)
	} else {
		requests, err = s.requestRepo.ListByRequester(ctx, caller.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list material requests: %w", err)
	}
	return toRequestResponses(requests), nil
}

func (s *requestService) History(ctx context.Context, caller Caller, userID string) ([]MaterialRequestResponse, error) {
	targetID, err := parseID(userID, "user")
	if err != nil {
		return nil, err
	}
	if targetID != caller.ID && !caller.IsAdmin() {
		return nil, apperror.Permission("you can only view your own history")
	}

	requests, err := s.requestRepo.ListApprovedByRequester(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load request history: %w", err)
	}
	return toRequestResponses(requests), nil
}

func (s *requestService) Stats(ctx context.Context, caller Caller) (model.RequestStats, error) {
	if !caller.IsAdmin() {
		return model.RequestStats{}, apperror.Permission("only admins can view request statistics")
	}
	stats, err := s.requestRepo.CountByStatus(ctx)
	if err != nil {
		return model.RequestStats{}, fmt.Errorf("failed to count material requests: %w", err)
	}
	return stats, nil
}

// reload reads the committed row back with its relations for the response
func (s *requestService) reload(ctx context.Context, mr model.MaterialRequest) (MaterialRequestResponse, error) {
	loaded, err := s.requestRepo.FindByIDWithRelations(ctx, mr.ID)
	if err != nil {
		return MaterialRequestResponse{}, fmt.Errorf("failed to reload material request: %w", err)
	}
	return toRequestResponse(*loaded), nil
}

func toRequestResponses(requests []model.MaterialRequest) []MaterialRequestResponse {
	res := make([]MaterialRequestResponse, 0, len(requests))
	for _, r := range requests {
		res = append(res, toRequestResponse(r))
	}
	return res
}

func toRequestResponse(r model.MaterialRequest) MaterialRequestResponse {
	res := MaterialRequestResponse{
		ID:                r.ID.String(),
		RequesterID:       r.RequesterID.String(),
		MaterialID:        r.MaterialID.String(),
		RequestedQuantity: r.RequestedQuantity,
		Status:            string(r.Status),
		Notes:             r.Notes,
		AdminNotes:        r.AdminNotes,
		CreatedAt:         formatTime(r.CreatedAt),
		ProcessedAt:       formatTimePtr(r.ProcessedAt),
	}
	if r.Requester != nil {
		res.RequesterUsername = r.Requester.Username
		res.RequesterName = r.Requester.FullName
	}
	if r.Material != nil {
		res.MaterialName = r.Material.Name
		res.MaterialCategory = r.Material.Category
		res.CurrentQuantity = r.Material.Quantity
	}
	if r.ProcessedBy != nil {
		processedBy := r.ProcessedBy.String()
		res.ProcessedBy = &processedBy
	}
	if r.Processor != nil {
		res.ProcessorName = r.Processor.FullName
	}
	return res
}
