package repository

import (
	"context"
	"llm_eval_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EvaluationRepository struct {
	DB *gorm.DB
}

func NewEvaluationRepository(db *gorm.DB) *EvaluationRepository {
	return &EvaluationRepository{DB: db}
}

func (r *EvaluationRepository) WithTx(tx *gorm.DB) *EvaluationRepository {
	return &EvaluationRepository{DB: tx}
}

func (r *EvaluationRepository) WithContext(ctx context.Context) *EvaluationRepository {
	return &EvaluationRepository{DB: r.DB.WithContext(ctx)}
}

var evaluationUnitColumns = []clause.Column{
	{Name: "batch_id"},
	{Name: "llm_answer_id"},
	{Name: "standard_answer_id"},
}

// Upsert 同一评测单元重复执行时覆盖旧结果
func (r *EvaluationRepository) Upsert(e *model.Evaluation) error {
	return r.DB.Clauses(clause.OnConflict{
		Columns: evaluationUnitColumns,
		DoUpdates: clause.AssignmentColumns([]string{
			"question_id", "method", "status", "score", "required_missing",
			"key_points_evaluation", "comments", "judge_model_id", "rationale_ref",
			"evaluator_id", "error_message", "attempts", "updated_at",
		}),
	}).Create(e).Error
}

func (r *EvaluationRepository) FindByID(id uint) (*model.Evaluation, error) {
	var e model.Evaluation
	err := r.DB.First(&e, id).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EvaluationRepository) FindUnit(batchID, llmAnswerID, standardAnswerID uint) (*model.Evaluation, error) {
	var e model.Evaluation
	err := r.DB.Where("batch_id = ? AND llm_answer_id = ? AND standard_answer_id = ?",
		batchID, llmAnswerID, standardAnswerID).First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EvaluationRepository) Save(e *model.Evaluation) error {
	return r.DB.Save(e).Error
}

func (r *EvaluationRepository) Delete(id uint) error {
	return r.DB.Delete(&model.Evaluation{}, id).Error
}

type EvaluationFilter struct {
	BatchID    uint
	QuestionID uint
	Status     string
	Method     string
}

func (r *EvaluationRepository) List(filter EvaluationFilter, page, limit int) ([]model.Evaluation, int64, error) {
	query := r.DB.Model(&model.Evaluation{})
	if filter.BatchID > 0 {
		query = query.Where("batch_id = ?", filter.BatchID)
	}
	if filter.QuestionID > 0 {
		query = query.Where("question_id = ?", filter.QuestionID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Method != "" {
		query = query.Where("method = ?", filter.Method)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var evals []model.Evaluation
	err := query.Order("question_id asc, id asc").Offset((page - 1) * limit).Limit(limit).Find(&evals).Error
	return evals, total, err
}

// ByBatch 批次内全部评测结果，用于汇总
func (r *EvaluationRepository) ByBatch(batchID uint) ([]model.Evaluation, error) {
	var evals []model.Evaluation
	err := r.DB.Where("batch_id = ?", batchID).Order("question_id asc, id asc").Find(&evals).Error
	return evals, err
}

func (r *EvaluationRepository) CountByBatch(batchID uint) (int64, error) {
	var n int64
	err := r.DB.Model(&model.Evaluation{}).Where("batch_id = ?", batchID).Count(&n).Error
	return n, err
}

type ModelComparisonRow struct {
	ModelID      uint    `json:"modelId"`
	ModelName    string  `json:"modelName"`
	ModelVersion string  `json:"modelVersion"`
	Batches      int64   `json:"batches"`
	Evaluated    int64   `json:"evaluated"`
	AverageScore float64 `json:"averageScore"`
	PassingCount int64   `json:"passingCount"`
	PassingRate  float64 `json:"passingRate"`
}

// ModelComparison 只统计已完成批次中的已评分结果
func (r *EvaluationRepository) ModelComparison(datasetVersionID uint, modelIDs []uint) ([]ModelComparisonRow, error) {
	query := r.DB.Table("evaluations AS e").
		Select(`b.model_id AS model_id, m.name AS model_name, m.version AS model_version,
			COUNT(DISTINCT b.id) AS batches, COUNT(e.id) AS evaluated,
			COALESCE(AVG(e.score), 0) AS average_score,
			SUM(CASE WHEN e.score >= b.passing_threshold THEN 1 ELSE 0 END) AS passing_count`).
		Joins("JOIN evaluation_batches AS b ON b.id = e.batch_id AND b.deleted_at IS NULL").
		Joins("JOIN llm_models AS m ON m.id = b.model_id").
		Where("b.status = ? AND e.status = ?", model.BatchCompleted, model.EvaluationScored)
	if datasetVersionID > 0 {
		query = query.Where("b.dataset_version_id = ?", datasetVersionID)
	}
	if len(modelIDs) > 0 {
		query = query.Where("b.model_id IN ?", modelIDs)
	}

	var rows []ModelComparisonRow
	if err := query.Group("b.model_id, m.name, m.version").Order("average_score desc").Scan(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].Evaluated > 0 {
			rows[i].PassingRate = float64(rows[i].PassingCount) / float64(rows[i].Evaluated)
		}
	}
	return rows, nil
}
