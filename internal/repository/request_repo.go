package repository

import (
	"context"
	"time"

	"stockroom/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RequestResolution is the terminal state written by a successful process step
type RequestResolution struct {
	Status      model.RequestStatus
	ProcessedBy uuid.UUID
	ProcessedAt time.Time
	AdminNotes  string
}

type RequestRepository interface {
	Create(ctx context.Context, req *model.MaterialRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.MaterialRequest, error)
	FindByIDWithRelations(ctx context.Context, id uuid.UUID) (*model.MaterialRequest, error)
	// ListAll orders pending first, then approved, then rejected, newest first inside each group
	ListAll(ctx context.Context) ([]model.MaterialRequest, error)
	ListByRequester(ctx context.Context, requesterID uuid.UUID) ([]model.MaterialRequest, error)
	ListApprovedByRequester(ctx context.Context, requesterID uuid.UUID) ([]model.MaterialRequest, error)
	// UpdatePending rewrites quantity and notes only while the row is still pending.
	// It reports false when the row is gone or already resolved.
	UpdatePending(ctx context.Context, id uuid.UUID, quantity int, notes string) (bool, error)
	// Resolve moves a pending row to its terminal state; false means someone else got there first.
	Resolve(ctx context.Context, id uuid.UUID, res RequestResolution) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	DeletePending(ctx context.Context, id uuid.UUID) (bool, error)
	CountByStatus(ctx context.Context) (model.RequestStats, error)
	CountByUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

type requestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{db: db}
}

const statusOrder = "CASE status WHEN 'pending' THEN 1 WHEN 'approved' THEN 2 WHEN 'rejected' THEN 3 ELSE 4 END"

// withRelations joins the display fields; deleted materials stay visible on old requests
func withRelations(db *gorm.DB) *gorm.DB {
	return db.Preload("Requester").
		Preload("Processor").
		Preload("Material", func(tx *gorm.DB) *gorm.DB { return tx.Unscoped() })
}

func (r *requestRepository) Create(ctx context.Context, req *model.MaterialRequest) error {
	return GetDB(ctx, r.db).Create(req).Error
}

func (r *requestRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.MaterialRequest, error) {
	var req model.MaterialRequest
	if err := GetDB(ctx, r.db).First(&req, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) FindByIDWithRelations(ctx context.Context, id uuid.UUID) (*model.MaterialRequest, error) {
	var req model.MaterialRequest
	if err := withRelations(GetDB(ctx, r.db)).First(&req, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) ListAll(ctx context.Context) ([]model.MaterialRequest, error) {
	var requests []model.MaterialRequest
	err := withRelations(GetDB(ctx, r.db)).
		Order(statusOrder).
		Order("created_at DESC").
		Find(&requests).Error
	return requests, err
}

func (r *requestRepository) ListByRequester(ctx context.Context, requesterID uuid.UUID) ([]model.MaterialRequest, error) {
	var requests []model.MaterialRequest
	err := withRelations(GetDB(ctx, r.db)).
		Where("requester_id = ?", requesterID).
		Order("created_at DESC").
		Find(&requests).Error
	return requests, err
}

func (r *requestRepository) ListApprovedByRequester(ctx context.Context, requesterID uuid.UUID) ([]model.MaterialRequest, error) {
	var requests []model.MaterialRequest
	err := withRelations(GetDB(ctx, r.db)).
		Where("requester_id = ? AND status = ?", requesterID, model.RequestApproved).
		Order("processed_at DESC").
		Find(&requests).Error
	return requests, err
}

func (r *requestRepository) UpdatePending(ctx context.Context, id uuid.UUID, quantity int, notes string) (bool, error) {
	result := GetDB(ctx, r.db).Model(&model.MaterialRequest{}).
		Where("id = ? AND status = ?", id, model.RequestPending).
		Updates(map[string]interface{}{
			"requested_quantity": quantity,
			"notes":              notes,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *requestRepository) Resolve(ctx context.Context, id uuid.UUID, res RequestResolution) (bool, error) {
	result := GetDB(ctx, r.db).Model(&model.MaterialRequest{}).
		Where("id = ? AND status = ?", id, model.RequestPending).
		Updates(map[string]interface{}{
			"status":       res.Status,
			"processed_by": res.ProcessedBy,
			"processed_at": res.ProcessedAt,
			"admin_notes":  res.AdminNotes,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *requestRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	result := GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.MaterialRequest{})
	return result.RowsAffected == 1, result.Error
}

func (r *requestRepository) DeletePending(ctx context.Context, id uuid.UUID) (bool, error) {
	result := GetDB(ctx, r.db).
		Where("id = ? AND status = ?", id, model.RequestPending).
		Delete(&model.MaterialRequest{})
	return result.RowsAffected == 1, result.Error
}

func (r *requestRepository) CountByStatus(ctx context.Context) (model.RequestStats, error) {
	var stats model.RequestStats
	err := GetDB(ctx, r.db).Model(&model.MaterialRequest{}).
		Select(`COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN status = 'approved' THEN 1 ELSE 0 END), 0) AS approved,
			COALESCE(SUM(CASE WHEN status = 'rejected' THEN 1 ELSE 0 END), 0) AS rejected,
			COUNT(*) AS total`).
		Scan(&stats).Error
	return stats, err
}

func (r *requestRepository) CountByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.MaterialRequest{}).
		Where("requester_id = ? OR processed_by = ?", userID, userID).
		Count(&count).Error
	return count, err
}
