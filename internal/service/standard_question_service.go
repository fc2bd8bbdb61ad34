package service

import (
	"llm_eval_backend/internal/model"
	"llm_eval_backend/internal/repository"
	"llm_eval_backend/internal/util"
	"strings"

	"gorm.io/gorm"
)

type StandardQuestionService struct {
	Repo *repository.QuestionRepository
}

func NewStandardQuestionService(repo *repository.QuestionRepository) *StandardQuestionService {
	return &StandardQuestionService{Repo: repo}
}

type QuestionRequest struct {
	Content      string `json:"content"`
	QuestionType string `json:"questionType"`
	Difficulty   string `json:"difficulty"`
	Category     string `json:"category"`
	Tags         string `json:"tags"`
	Status       string `json:"status"`
}

// apply 将请求中的非空字段写入问题并校验枚举
func (req QuestionRequest) apply(q *model.StandardQuestion) error {
	if c := strings.TrimSpace(req.Content); c != "" {
		q.Content = c
	}
	if req.QuestionType != "" {
		q.QuestionType = model.QuestionType(req.QuestionType)
	}
	if req.Difficulty != "" {
		q.Difficulty = model.Difficulty(req.Difficulty)
	}
	if req.Category != "" {
		q.Category = req.Category
	}
	if req.Tags != "" {
		q.Tags = req.Tags
	}
	if req.Status != "" {
		q.Status = model.QuestionStatus(req.Status)
	}

	if q.Content == "" {
		return util.Validation("content is required")
	}
	if !q.QuestionType.Valid() {
		return util.Validation("invalid question type %q", q.QuestionType)
	}
	if !q.Difficulty.Valid() {
		return util.Validation("invalid difficulty %q", q.Difficulty)
	}
	if !q.Status.Valid() {
		return util.Validation("invalid question status %q", q.Status)
	}
	return nil
}

func (s *StandardQuestionService) Create(req QuestionRequest, creatorID uint) (*model.StandardQuestion, error) {
	q := &model.StandardQuestion{
		QuestionType: model.QuestionSubjective,
		Difficulty:   model.DifficultyMedium,
		Status:       model.QuestionDraft,
		Version:      1,
		IsLatest:     true,
		CreatedBy:    creatorID,
	}
	if err := req.apply(q); err != nil {
		return nil, err
	}
	if err := s.Repo.Create(q); err != nil {
		return nil, err
	}
	return q, nil
}

func (s *StandardQuestionService) Get(id uint) (*model.StandardQuestion, error) {
	q, err := s.Repo.FindByID(id)
	if err != nil {
		return nil, util.WrapNotFound(err, "question", id)
	}
	return q, nil
}

// Update 原地修改，不产生新版本
func (s *StandardQuestionService) Update(id uint, req QuestionRequest) (*model.StandardQuestion, error) {
	q, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if err := req.apply(q); err != nil {
		return nil, err
	}
	if err := s.Repo.Update(q); err != nil {
		return nil, err
	}
	return q, nil
}

func (s *StandardQuestionService) Delete(id uint) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	return s.Repo.Delete(id)
}

func (s *StandardQuestionService) List(filter repository.QuestionFilter, page, limit int) ([]model.StandardQuestion, int64, error) {
	page, limit = util.NormalizePage(page, limit)
	return s.Repo.List(filter, page, limit)
}

// CreateVersion 基于已有问题派生新版本，新版本成为版本链上唯一的 latest
func (s *StandardQuestionService) CreateVersion(id uint, req QuestionRequest, creatorID uint) (*model.StandardQuestion, error) {
	var created *model.StandardQuestion
	err := s.Repo.DB.Transaction(func(tx *gorm.DB) error {
		repo := s.Repo.WithTx(tx)
		parent, err := repo.FindByID(id)
		if err != nil {
			return util.WrapNotFound(err, "question", id)
		}

		chainID := parent.ChainID()
		maxVersion, err := repo.MaxVersion(chainID)
		if err != nil {
			return err
		}

		parentID := parent.ID
		next := &model.StandardQuestion{
			Content:      parent.Content,
			QuestionType: parent.QuestionType,
			Difficulty:   parent.Difficulty,
			Category:     parent.Category,
			Tags:         parent.Tags,
			Status:       model.QuestionDraft,
			Version:      maxVersion + 1,
			ParentID:     &parentID,
			OriginalID:   &chainID,
			IsLatest:     true,
			CreatedBy:    creatorID,
		}
		if err := req.apply(next); err != nil {
			return err
		}
		if err := repo.ClearLatest(chainID); err != nil {
			return err
		}
		if err := repo.Create(next); err != nil {
			return err
		}
		created = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *StandardQuestionService) ListVersions(id uint) ([]model.StandardQuestion, error) {
	q, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return s.Repo.ListVersions(q.ChainID())
}
