package service

import (
	"context"
	"fmt"
	"strings"

	"stockroom/internal/apperror"
	"stockroom/internal/model"
	"stockroom/internal/repository"
	ws "stockroom/internal/websocket"

	"go.uber.org/zap"
)

// DTOs
type MaterialDTO struct {
	Name         string `json:"name" binding:"required"`
	Category     string `json:"category" binding:"required"`
	Quantity     *int   `json:"quantity" binding:"omitempty,min=0"`
	MinThreshold *int   `json:"min_threshold" binding:"omitempty,min=0"`
	MaxThreshold *int   `json:"max_threshold" binding:"omitempty,min=0"`
	Notes        string `json:"notes"`
}

type QuantityChangeDTO struct {
	Change int `json:"change"`
}

type RenameDTO struct {
	OldName string `json:"old_name" binding:"required"`
	Name    string `json:"name" binding:"required"`
}

type NameDTO struct {
	Name string `json:"name" binding:"required"`
}

type MaterialResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	Quantity     int    `json:"quantity"`
	MinThreshold int    `json:"min_threshold"`
	MaxThreshold int    `json:"max_threshold"`
	Notes        string `json:"notes"`
	StockLevel   string `json:"stock_level"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type MaterialService interface {
	List(ctx context.Context, filter repository.MaterialFilter) ([]MaterialResponse, error)
	Get(ctx context.Context, id string) (MaterialResponse, error)
	Create(ctx context.Context, caller Caller, req MaterialDTO) (MaterialResponse, error)
	Update(ctx context.Context, caller Caller, id string, req MaterialDTO) (MaterialResponse, error)
	AdjustQuantity(ctx context.Context, caller Caller, id string, change int) (MaterialResponse, error)
	Delete(ctx context.Context, caller Caller, id string) error
	Categories(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (model.StockStats, error)

	// Category maintenance. Categories exist only as values on materials.
	CategoryCounts(ctx context.Context) ([]model.NameCount, error)
	AddCategory(ctx context.Context, name string) (string, error)
	RenameCategory(ctx context.Context, caller Caller, req RenameDTO) (int64, error)
	DeleteCategory(ctx context.Context, name string) error
}

type materialService struct {
	materialRepo repository.MaterialRepository
	auditRepo    repository.AuditRepository
	txManager    repository.TransactionManager
	events       EventPublisher
	log          *zap.Logger
}

func NewMaterialService(
	materialRepo repository.MaterialRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	events EventPublisher,
	log *zap.Logger,
) MaterialService {
	if log == nil {
		log = zap.NewNop()
	}
	return &materialService{
		materialRepo: materialRepo,
		auditRepo:    auditRepo,
		txManager:    txManager,
		events:       publisherOrNoop(events),
		log:          log.Named("materials"),
	}
}

func toMaterialResponse(m model.Material) MaterialResponse {
	return MaterialResponse{
		ID:           m.ID.String(),
		Name:         m.Name,
		Category:     m.Category,
		Quantity:     m.Quantity,
		MinThreshold: m.MinThreshold,
		MaxThreshold: m.MaxThreshold,
		Notes:        m.Notes,
		StockLevel:   string(m.StockLevel()),
		CreatedAt:    formatTime(m.CreatedAt),
		UpdatedAt:    formatTime(m.UpdatedAt),
	}
}

func validateMaterial(req *MaterialDTO) error {
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" || req.Category == "" {
		return apperror.Validation("name and category are required")
	}
	for field, v := range map[string]*int{"quantity": req.Quantity, "min_threshold": req.MinThreshold, "max_threshold": req.MaxThreshold} {
		if v != nil && *v < 0 {
			return apperror.Validation("%s must not be negative", field)
		}
	}
	return nil
}

func intOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

func (s *materialService) List(ctx context.Context, filter repository.MaterialFilter) ([]MaterialResponse, error) {
	materials, err := s.materialRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list materials: %w", err)
	}
	res := make([]MaterialResponse, 0, len(materials))
	for _, m := range materials {
		res = append(res, toMaterialResponse(m))
	}
	return res, nil
}

func (s *materialService) Get(ctx context.Context, id string) (MaterialResponse, error) {
	materialID, err := parseID(id, "material")
	if err != nil {
		return MaterialResponse{}, err
	}
	material, err := s.materialRepo.FindByID(ctx, materialID)
	if err != nil {
		return MaterialResponse{}, notFoundOr(err, "material not found")
	}
	return toMaterialResponse(*material), nil
}

func (s *materialService) Create(ctx context.Context, caller Caller, req MaterialDTO) (MaterialResponse, error) {
	if err := validateMaterial(&req); err != nil {
		return MaterialResponse{}, err
	}

	material := model.Material{
		Name:         req.Name,
		Category:     req.Category,
		Quantity:     intOr(req.Quantity, 0),
		MinThreshold: intOr(req.MinThreshold, model.DefaultMinThreshold),
		MaxThreshold: intOr(req.MaxThreshold, model.DefaultMaxThreshold),
		Notes:        req.Notes,
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.materialRepo.Create(txCtx, &material); err != nil {
			return fmt.Errorf("failed to create material: %w", err)
		}
		return s.audit(txCtx, caller, model.ActionCreateMaterial, material, req)
	})
	if err != nil {
		return MaterialResponse{}, err
	}
	return toMaterialResponse(material), nil
}

func (s *materialService) Update(ctx context.Context, caller Caller, id string, req MaterialDTO) (MaterialResponse, error) {
	materialID, err := parseID(id, "material")
	if err != nil {
		return MaterialResponse{}, err
	}
	if err := validateMaterial(&req); err != nil {
		return MaterialResponse{}, err
	}

	var material *model.Material
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		material, err = s.materialRepo.FindByID(txCtx, materialID)
		if err != nil {
			return notFoundOr(err, "material not found")
		}

		material.Name = req.Name
		material.Category = req.Category
		material.MinThreshold = intOr(req.MinThreshold, material.MinThreshold)
		material.MaxThreshold = intOr(req.MaxThreshold, material.MaxThreshold)
		material.Notes = req.Notes
		if err := s.materialRepo.Update(txCtx, material); err != nil {
			return fmt.Errorf("failed to update material: %w", err)
		}
		if req.Quantity != nil {
			if err := s.materialRepo.SetQuantity(txCtx, materialID, *req.Quantity); err != nil {
				return fmt.Errorf("failed to set material quantity: %w", err)
			}
		}

		if err := s.audit(txCtx, caller, model.ActionUpdateMaterial, *material, req); err != nil {
			return err
		}
		material, err = s.materialRepo.FindByID(txCtx, materialID)
		return err
	})
	if err != nil {
		return MaterialResponse{}, err
	}
	if req.Quantity != nil {
		s.publishStock(*material)
	}
	return toMaterialResponse(*material), nil
}

// AdjustQuantity applies a relative correction; the stored quantity never drops below zero
func (s *materialService) AdjustQuantity(ctx context.Context, caller Caller, id string, change int) (MaterialResponse, error) {
	materialID, err := parseID(id, "material")
	if err != nil {
		return MaterialResponse{}, err
	}

	var material *model.Material
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.materialRepo.AdjustQuantity(txCtx, materialID, change); err != nil {
			return notFoundOr(err, "material not found")
		}
		material, err = s.materialRepo.FindByID(txCtx, materialID)
		if err != nil {
			return notFoundOr(err, "material not found")
		}
		return s.audit(txCtx, caller, model.ActionAdjustMaterial, *material, map[string]int{
			"change":         change,
			"quantity_after": material.Quantity,
		})
	})
	if err != nil {
		return MaterialResponse{}, err
	}

	s.publishStock(*material)
	return toMaterialResponse(*material), nil
}

func (s *materialService) Delete(ctx context.Context, caller Caller, id string) error {
	materialID, err := parseID(id, "material")
	if err != nil {
		return err
	}

	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		material, err := s.materialRepo.FindByID(txCtx, materialID)
		if err != nil {
			return notFoundOr(err, "material not found")
		}
		if err := s.materialRepo.Delete(txCtx, materialID); err != nil {
			return fmt.Errorf("failed to delete material: %w", err)
		}
		return s.audit(txCtx, caller, model.ActionDeleteMaterial, *material, map[string]bool{"deleted": true})
	})
}

func (s *materialService) Categories(ctx context.Context) ([]string, error) {
	categories, err := s.materialRepo.Categories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return categories, nil
}

func (s *materialService) Stats(ctx context.Context) (model.StockStats, error) {
	stats, err := s.materialRepo.Stats(ctx)
	if err != nil {
		return model.StockStats{}, fmt.Errorf("failed to compute material stats: %w", err)
	}
	return stats, nil
}

func (s *materialService) CategoryCounts(ctx context.Context) ([]model.NameCount, error) {
	counts, err := s.materialRepo.CategoryCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count categories: %w", err)
	}
	return counts, nil
}

// AddCategory only checks the name is free; the category comes into being with its first material
func (s *materialService) AddCategory(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperror.Validation("category name is required")
	}
	count, err := s.materialRepo.CountInCategory(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to check category: %w", err)
	}
	if count > 0 {
		return "", apperror.Conflict("category %q already exists", name)
	}
	return name, nil
}

func (s *materialService) RenameCategory(ctx context.Context, caller Caller, req RenameDTO) (int64, error) {
	oldName := strings.TrimSpace(req.OldName)
	newName := strings.TrimSpace(req.Name)
	if oldName == "" || newName == "" {
		return 0, apperror.Validation("old and new category names are required")
	}
	if oldName == newName {
		return 0, nil
	}

	var renamed int64
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		existing, err := s.materialRepo.CountInCategory(txCtx, newName)
		if err != nil {
			return fmt.Errorf("failed to check category: %w", err)
		}
		if existing > 0 {
			return apperror.Conflict("category %q already exists", newName)
		}

		renamed, err = s.materialRepo.RenameCategory(txCtx, oldName, newName)
		if err != nil {
			return fmt.Errorf("failed to rename category: %w", err)
		}

		return s.auditRepo.Log(txCtx, &model.AuditLog{
			UserID:     caller.auditUserID(),
			Action:     model.ActionRenameCategory,
			EntityID:   oldName,
			EntityName: newName,
			IPAddress:  caller.IP,
			Details:    marshalDetails(map[string]interface{}{"old_name": oldName, "name": newName, "materials": renamed}),
		})
	})
	if err != nil {
		return 0, err
	}

	s.log.Info("category renamed", zap.String("from", oldName), zap.String("to", newName), zap.Int64("materials", renamed))
	return renamed, nil
}

func (s *materialService) DeleteCategory(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperror.Validation("category name is required")
	}
	count, err := s.materialRepo.CountInCategory(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check category: %w", err)
	}
	if count > 0 {
		return apperror.Conflict("category %q is used by %d materials", name, count)
	}
	return nil
}

func (s *materialService) audit(ctx context.Context, caller Caller, action string, m model.Material, details interface{}) error {
	entry := &model.AuditLog{
		UserID:     caller.auditUserID(),
		Action:     action,
		EntityID:   m.ID.String(),
		EntityName: m.Name,
		IPAddress:  caller.IP,
		Details:    marshalDetails(details),
	}
	if err := s.auditRepo.Log(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

func (s *materialService) publishStock(m model.Material) {
	s.events.Publish(ws.EventMaterialStockMoved, map[string]interface{}{
		"material_id": m.ID.String(),
		"quantity":    m.Quantity,
		"stock_level": m.StockLevel(),
	})
}
