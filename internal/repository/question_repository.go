package repository

import (
	"llm_eval_backend/internal/model"

	"gorm.io/gorm"
)

type QuestionRepository struct {
	DB *gorm.DB
}

func NewQuestionRepository(db *gorm.DB) *QuestionRepository {
	return &QuestionRepository{DB: db}
}

func (r *QuestionRepository) WithTx(tx *gorm.DB) *QuestionRepository {
	return &QuestionRepository{DB: tx}
}

type QuestionFilter struct {
	Category     string
	QuestionType string
	Difficulty   string
	Status       string
	Keyword      string
	LatestOnly   bool
}

func (r *QuestionRepository) Create(q *model.StandardQuestion) error {
	return r.DB.Create(q).Error
}

func (r *QuestionRepository) FindByID(id uint) (*model.StandardQuestion, error) {
	var q model.StandardQuestion
	err := r.DB.First(&q, id).Error
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *QuestionRepository) Update(q *model.StandardQuestion) error {
	return r.DB.Save(q).Error
}

func (r *QuestionRepository) Delete(id uint) error {
	return r.DB.Delete(&model.StandardQuestion{}, id).Error
}

func (r *QuestionRepository) List(filter QuestionFilter, page, limit int) ([]model.StandardQuestion, int64, error) {
	query := r.DB.Model(&model.StandardQuestion{})
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.QuestionType != "" {
		query = query.Where("question_type = ?", filter.QuestionType)
	}
	if filter.Difficulty != "" {
		query = query.Where("difficulty = ?", filter.Difficulty)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Keyword != "" {
		query = query.Where("content LIKE ?", "%"+filter.Keyword+"%")
	}
	if filter.LatestOnly {
		query = query.Where("is_latest = ?", true)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var questions []model.StandardQuestion
	err := query.Order("id desc").Offset((page - 1) * limit).Limit(limit).Find(&questions).Error
	return questions, total, err
}

// ListVersions 版本链上的全部问题，按版本升序
func (r *QuestionRepository) ListVersions(chainID uint) ([]model.StandardQuestion, error) {
	var qs []model.StandardQuestion
	err := r.DB.Where("id = ? OR original_id = ?", chainID, chainID).
		Order("version asc").
		Find(&qs).Error
	return qs, err
}

// ClearLatest 清除版本链上的 is_latest 标记
func (r *QuestionRepository) ClearLatest(chainID uint) error {
	return r.DB.Model(&model.StandardQuestion{}).
		Where("(id = ? OR original_id = ?) AND is_latest = ?", chainID, chainID, true).
		Update("is_latest", false).Error
}

func (r *QuestionRepository) MaxVersion(chainID uint) (int, error) {
	var max int
	err := r.DB.Model(&model.StandardQuestion{}).
		Where("id = ? OR original_id = ?", chainID, chainID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&max).Error
	return max, err
}

// ExistingIDs 返回 ids 中实际存在的问题ID
func (r *QuestionRepository) ExistingIDs(ids []uint) ([]uint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var found []uint
	err := r.DB.Model(&model.StandardQuestion{}).Where("id IN ?", ids).Pluck("id", &found).Error
	return found, err
}
