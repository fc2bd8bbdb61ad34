package repository

import (
	"context"
	"llm_eval_backend/internal/model"
	"time"

	"gorm.io/gorm"
)

type EvaluationBatchRepository struct {
	DB *gorm.DB
}

func NewEvaluationBatchRepository(db *gorm.DB) *EvaluationBatchRepository {
	return &EvaluationBatchRepository{DB: db}
}

func (r *EvaluationBatchRepository) WithTx(tx *gorm.DB) *EvaluationBatchRepository {
	return &EvaluationBatchRepository{DB: tx}
}

func (r *EvaluationBatchRepository) WithContext(ctx context.Context) *EvaluationBatchRepository {
	return &EvaluationBatchRepository{DB: r.DB.WithContext(ctx)}
}

func (r *EvaluationBatchRepository) Create(b *model.EvaluationBatch) error {
	return r.DB.Create(b).Error
}

func (r *EvaluationBatchRepository) FindByID(id uint) (*model.EvaluationBatch, error) {
	var b model.EvaluationBatch
	err := r.DB.First(&b, id).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *EvaluationBatchRepository) Save(b *model.EvaluationBatch) error {
	return r.DB.Save(b).Error
}

func (r *EvaluationBatchRepository) Delete(id uint) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("batch_id = ?", id).Delete(&model.Evaluation{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.EvaluationBatch{}, id).Error
	})
}

// TransitionStatus 条件更新批次状态，只有当前状态在 from 中才会生效
func (r *EvaluationBatchRepository) TransitionStatus(id uint, from []model.BatchStatus, to model.BatchStatus, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to, "updated_at": time.Now()}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.DB.Model(&model.EvaluationBatch{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

type BatchFilter struct {
	ModelID          uint
	DatasetVersionID uint
	Status           string
	Method           string
}

func (r *EvaluationBatchRepository) List(filter BatchFilter, page, limit int) ([]model.EvaluationBatch, int64, error) {
	query := r.DB.Model(&model.EvaluationBatch{})
	if filter.ModelID > 0 {
		query = query.Where("model_id = ?", filter.ModelID)
	}
	if filter.DatasetVersionID > 0 {
		query = query.Where("dataset_version_id = ?", filter.DatasetVersionID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Method != "" {
		query = query.Where("evaluation_method = ?", filter.Method)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var batches []model.EvaluationBatch
	err := query.Order("id desc").Offset((page - 1) * limit).Limit(limit).Find(&batches).Error
	return batches, total, err
}

// ListInProgress 启动时用于回收上次进程遗留的运行中批次
func (r *EvaluationBatchRepository) ListInProgress() ([]model.EvaluationBatch, error) {
	var batches []model.EvaluationBatch
	err := r.DB.Where("status = ?", model.BatchInProgress).Find(&batches).Error
	return batches, err
}
