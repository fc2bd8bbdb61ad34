package service

import (
	"encoding/json"
	"llm_eval_backend/internal/model"
	"llm_eval_backend/internal/repository"
	"llm_eval_backend/internal/util"
	"strings"

	"gorm.io/datatypes"
)

// LlmService 被测模型与模型回答
type LlmService struct {
	Repo         *repository.LlmRepository
	QuestionRepo *repository.QuestionRepository
	DatasetRepo  *repository.DatasetRepository
}

func NewLlmService(repo *repository.LlmRepository, questionRepo *repository.QuestionRepository, datasetRepo *repository.DatasetRepository) *LlmService {
	return &LlmService{Repo: repo, QuestionRepo: questionRepo, DatasetRepo: datasetRepo}
}

type CreateModelRequest struct {
	Name        string          `json:"name" binding:"required"`
	Version     string          `json:"version" binding:"required"`
	Provider    string          `json:"provider"`
	Description string          `json:"description"`
	APIConfig   json.RawMessage `json:"apiConfig"`
}

type LlmAnswerRequest struct {
	ModelID          uint   `json:"modelId" binding:"required"`
	QuestionID       uint   `json:"questionId" binding:"required"`
	DatasetVersionID uint   `json:"datasetVersionId" binding:"required"`
	Content          string `json:"content" binding:"required"`
	LatencyMs        int    `json:"latencyMs"`
	TokensUsed       int    `json:"tokensUsed"`
	RetryCount       int    `json:"retryCount"`
}

func (s *LlmService) CreateModel(req CreateModelRequest) (*model.LlmModel, error) {
	name := strings.TrimSpace(req.Name)
	version := strings.TrimSpace(req.Version)
	if name == "" || version == "" {
		return nil, util.Validation("name and version are required")
	}
	exists, err := s.Repo.ModelExists(name, version)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, util.Validation("model %s:%s already exists", name, version)
	}
	if len(req.APIConfig) > 0 && !json.Valid(req.APIConfig) {
		return nil, util.Validation("apiConfig must be valid JSON")
	}

	m := &model.LlmModel{
		Name:        name,
		Version:     version,
		Provider:    req.Provider,
		Description: req.Description,
	}
	if len(req.APIConfig) > 0 {
		m.APIConfig = datatypes.JSON(req.APIConfig)
	}
	if err := s.Repo.CreateModel(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *LlmService) GetModel(id uint) (*model.LlmModel, error) {
	m, err := s.Repo.FindModelByID(id)
	if err != nil {
		return nil, util.WrapNotFound(err, "model", id)
	}
	return m, nil
}

func (s *LlmService) ListModels(provider string) ([]model.LlmModel, error) {
	return s.Repo.ListModels(provider)
}

func (s *LlmService) DeleteModel(id uint) error {
	if _, err := s.GetModel(id); err != nil {
		return err
	}
	return s.Repo.DeleteModel(id)
}

func (s *LlmService) toAnswer(req LlmAnswerRequest) (model.LlmAnswer, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return model.LlmAnswer{}, util.Validation("content is required")
	}
	if _, err := s.GetModel(req.ModelID); err != nil {
		return model.LlmAnswer{}, err
	}
	if _, err := s.QuestionRepo.FindByID(req.QuestionID); err != nil {
		return model.LlmAnswer{}, util.WrapNotFound(err, "question", req.QuestionID)
	}
	if _, err := s.DatasetRepo.FindByID(req.DatasetVersionID); err != nil {
		return model.LlmAnswer{}, util.WrapNotFound(err, "dataset version", req.DatasetVersionID)
	}
	return model.LlmAnswer{
		ModelID:          req.ModelID,
		QuestionID:       req.QuestionID,
		DatasetVersionID: req.DatasetVersionID,
		Content:          content,
		LatencyMs:        req.LatencyMs,
		TokensUsed:       req.TokensUsed,
		RetryCount:       req.RetryCount,
		IsFinal:          true,
	}, nil
}

func (s *LlmService) SubmitAnswer(req LlmAnswerRequest) (*model.LlmAnswer, error) {
	a, err := s.toAnswer(req)
	if err != nil {
		return nil, err
	}
	if err := s.Repo.CreateAnswer(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

// SubmitAnswers 批量导入，任一条不合法则整体拒绝
func (s *LlmService) SubmitAnswers(reqs []LlmAnswerRequest) (int, error) {
	if len(reqs) == 0 {
		return 0, util.Validation("answers is required")
	}
	answers := make([]model.LlmAnswer, 0, len(reqs))
	for _, req := range reqs {
		a, err := s.toAnswer(req)
		if err != nil {
			return 0, err
		}
		answers = append(answers, a)
	}
	if err := s.Repo.CreateAnswers(answers); err != nil {
		return 0, err
	}
	return len(answers), nil
}

func (s *LlmService) GetAnswer(id uint) (*model.LlmAnswer, error) {
	a, err := s.Repo.FindAnswerByID(id)
	if err != nil {
		return nil, util.WrapNotFound(err, "llm answer", id)
	}
	return a, nil
}

func (s *LlmService) ListAnswers(filter repository.LlmAnswerFilter, page, limit int) ([]model.LlmAnswer, int64, error) {
	page, limit = util.NormalizePage(page, limit)
	return s.Repo.ListAnswers(filter, page, limit)
}

func (s *LlmService) DeleteAnswer(id uint) error {
	if _, err := s.GetAnswer(id); err != nil {
		return err
	}
	return s.Repo.DeleteAnswer(id)
}
