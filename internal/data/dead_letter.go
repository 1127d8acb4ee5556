package data

import (
	"context"
	"fmt"
	"time"

	"Bulwark/internal/model"
	pkgerrors "Bulwark/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// DeadLetterRepo implements biz.DeadLetterRepo on MySQL via GORM.
// Following Kratos v2 DDD architecture, interface is defined in biz layer.
type DeadLetterRepo struct {
	db     *gorm.DB
	logger *log.Helper
}

// NewDeadLetterRepo creates a new dead-letter repository.
func NewDeadLetterRepo(data *Data, logger log.Logger) *DeadLetterRepo {
	return &DeadLetterRepo{
		db:     data.GetDB(),
		logger: log.NewHelper(logger),
	}
}

// Insert persists a dead-letter entry. A second insert for the same
// original job ID surfaces as a duplicate-key DatabaseError, which callers
// treat as already-quarantined.
func (r *DeadLetterRepo) Insert(ctx context.Context, entry *model.DeadLetterJob) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return pkgerrors.ClassifyDBError(err)
	}
	return nil
}

// List returns entries filtered by resolved state, most recent failures
// first.
func (r *DeadLetterRepo) List(ctx context.Context, resolved bool, limit int) ([]*model.DeadLetterJob, error) {
	var entries []*model.DeadLetterJob
	err := r.db.WithContext(ctx).
		Where("resolved = ?", resolved).
		Order("failed_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, pkgerrors.ClassifyDBError(err)
	}
	return entries, nil
}

// Get returns the entry for an original job ID, or nil when none exists.
func (r *DeadLetterRepo) Get(ctx context.Context, originalJobID string) (*model.DeadLetterJob, error) {
	entry := &model.DeadLetterJob{}
	err := r.db.WithContext(ctx).
		Where("original_job_id = ?", originalJobID).
		First(entry).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.ClassifyDBError(err)
	}
	return entry, nil
}

// MarkResolved flips an entry to resolved with a note and timestamp.
func (r *DeadLetterRepo) MarkResolved(ctx context.Context, originalJobID, note string, resolvedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&model.DeadLetterJob{}).
		Where("original_job_id = ? AND resolved = ?", originalJobID, false).
		Updates(map[string]interface{}{
			"resolved":        true,
			"resolved_at":     resolvedAt,
			"resolution_note": note,
		})
	if result.Error != nil {
		return pkgerrors.ClassifyDBError(result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no unresolved dead letter entry for job %q", originalJobID)
	}
	return nil
}

// DeleteResolvedBefore removes resolved entries whose resolution time is
// before cutoff and returns the number deleted.
func (r *DeadLetterRepo) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("resolved = ? AND resolved_at < ?", true, cutoff).
		Delete(&model.DeadLetterJob{})
	if result.Error != nil {
		return 0, pkgerrors.ClassifyDBError(result.Error)
	}
	return result.RowsAffected, nil
}
