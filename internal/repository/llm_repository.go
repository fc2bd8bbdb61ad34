package repository

import (
	"llm_eval_backend/internal/model"

	"gorm.io/gorm"
)

type LlmRepository struct {
	DB *gorm.DB
}

func NewLlmRepository(db *gorm.DB) *LlmRepository {
	return &LlmRepository{DB: db}
}

func (r *LlmRepository) CreateModel(m *model.LlmModel) error {
	return r.DB.Create(m).Error
}

func (r *LlmRepository) FindModelByID(id uint) (*model.LlmModel, error) {
	var m model.LlmModel
	err := r.DB.First(&m, id).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *LlmRepository) ModelExists(name, version string) (bool, error) {
	var n int64
	err := r.DB.Unscoped().Model(&model.LlmModel{}).
		Where("name = ? AND version = ?", name, version).
		Count(&n).Error
	return n > 0, err
}

func (r *LlmRepository) SaveModel(m *model.LlmModel) error {
	return r.DB.Save(m).Error
}

func (r *LlmRepository) DeleteModel(id uint) error {
	return r.DB.Delete(&model.LlmModel{}, id).Error
}

func (r *LlmRepository) ListModels(provider string) ([]model.LlmModel, error) {
	var models []model.LlmModel
	query := r.DB.Model(&model.LlmModel{})
	if provider != "" {
		query = query.Where("provider = ?", provider)
	}
	err := query.Order("name asc, version asc").Find(&models).Error
	return models, err
}

func (r *LlmRepository) CreateAnswers(answers []model.LlmAnswer) error {
	if len(answers) == 0 {
		return nil
	}
	return r.DB.CreateInBatches(&answers, 100).Error
}

func (r *LlmRepository) CreateAnswer(a *model.LlmAnswer) error {
	return r.DB.Create(a).Error
}

func (r *LlmRepository) FindAnswerByID(id uint) (*model.LlmAnswer, error) {
	var a model.LlmAnswer
	err := r.DB.First(&a, id).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *LlmRepository) DeleteAnswer(id uint) error {
	return r.DB.Delete(&model.LlmAnswer{}, id).Error
}

type LlmAnswerFilter struct {
	ModelID          uint
	QuestionID       uint
	DatasetVersionID uint
}

func (r *LlmRepository) ListAnswers(filter LlmAnswerFilter, page, limit int) ([]model.LlmAnswer, int64, error) {
	query := r.DB.Model(&model.LlmAnswer{})
	if filter.ModelID > 0 {
		query = query.Where("model_id = ?", filter.ModelID)
	}
	if filter.QuestionID > 0 {
		query = query.Where("question_id = ?", filter.QuestionID)
	}
	if filter.DatasetVersionID > 0 {
		query = query.Where("dataset_version_id = ?", filter.DatasetVersionID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var answers []model.LlmAnswer
	err := query.Order("id desc").Offset((page - 1) * limit).Limit(limit).Find(&answers).Error
	return answers, total, err
}

// FinalAnswersForRun 批次要评测的模型回答
func (r *LlmRepository) FinalAnswersForRun(modelID, datasetVersionID uint, questionIDs []uint) ([]model.LlmAnswer, error) {
	if len(questionIDs) == 0 {
		return nil, nil
	}
	var answers []model.LlmAnswer
	err := r.DB.Where("model_id = ? AND dataset_version_id = ? AND is_final = ? AND question_id IN ?",
		modelID, datasetVersionID, true, questionIDs).
		Order("question_id asc, id asc").
		Find(&answers).Error
	return answers, err
}
