package service

import (
	"errors"
	"llm_eval_backend/internal/model"
	"llm_eval_backend/internal/repository"
	"llm_eval_backend/internal/scoring"
	"llm_eval_backend/internal/util"
	"llm_eval_backend/pkg/logger"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RubricService 标准答案与得分点管理
type RubricService struct {
	AnswerRepo   *repository.StandardAnswerRepository
	QuestionRepo *repository.QuestionRepository
}

func NewRubricService(answerRepo *repository.StandardAnswerRepository, questionRepo *repository.QuestionRepository) *RubricService {
	return &RubricService{AnswerRepo: answerRepo, QuestionRepo: questionRepo}
}

type KeyPointInput struct {
	PointText   string   `json:"pointText" binding:"required"`
	PointOrder  int      `json:"pointOrder"`
	PointWeight *float64 `json:"pointWeight"`
	PointType   string   `json:"pointType"`
	ExampleText string   `json:"exampleText"`
}

func (in KeyPointInput) toModel() model.AnswerKeyPoint {
	weight := 1.0
	if in.PointWeight != nil {
		weight = *in.PointWeight
	}
	pt := model.PointType(in.PointType)
	if pt == "" {
		pt = model.PointRequired
	}
	return model.AnswerKeyPoint{
		PointText:   strings.TrimSpace(in.PointText),
		PointOrder:  in.PointOrder,
		PointWeight: weight,
		PointType:   pt,
		ExampleText: in.ExampleText,
	}
}

type CreateStandardAnswerRequest struct {
	QuestionID      uint            `json:"questionId" binding:"required"`
	Content         string          `json:"content" binding:"required"`
	SourceType      string          `json:"sourceType"`
	SourceRef       string          `json:"sourceRef"`
	SelectionReason string          `json:"selectionReason"`
	KeyPoints       []KeyPointInput `json:"keyPoints"`
}

type ReviseStandardAnswerRequest struct {
	Content   *string          `json:"content"`
	KeyPoints *[]KeyPointInput `json:"keyPoints"`
}

// ToRubricKeyPoints 转换为评分引擎使用的得分点
func ToRubricKeyPoints(kps []model.AnswerKeyPoint) []scoring.KeyPoint {
	out := make([]scoring.KeyPoint, 0, len(kps))
	for _, kp := range kps {
		out = append(out, scoring.KeyPoint{
			ID:      kp.ID,
			Order:   kp.PointOrder,
			Text:    kp.PointText,
			Example: kp.ExampleText,
			Weight:  kp.PointWeight,
			Type:    scoring.PointType(kp.PointType),
		})
	}
	return out
}

func validateKeyPoints(kps []model.AnswerKeyPoint) error {
	for _, kp := range kps {
		if !kp.PointType.Valid() {
			return util.Validation("invalid point type %q", kp.PointType)
		}
	}
	if err := (scoring.Rubric{KeyPoints: ToRubricKeyPoints(kps)}).Validate(); err != nil {
		return util.Validation("%v", err)
	}
	return nil
}

func (s *RubricService) CreateStandardAnswer(req CreateStandardAnswerRequest) (*model.StandardAnswer, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, util.Validation("content is required")
	}
	sourceType := model.SourceType(req.SourceType)
	if sourceType == "" {
		sourceType = model.SourceManual
	}
	if !sourceType.Valid() {
		return nil, util.Validation("invalid source type %q", req.SourceType)
	}
	if _, err := s.QuestionRepo.FindByID(req.QuestionID); err != nil {
		return nil, util.WrapNotFound(err, "question", req.QuestionID)
	}

	kps := make([]model.AnswerKeyPoint, 0, len(req.KeyPoints))
	for _, in := range req.KeyPoints {
		kps = append(kps, in.toModel())
	}
	if err := validateKeyPoints(kps); err != nil {
		return nil, err
	}

	answer := &model.StandardAnswer{
		QuestionID:      req.QuestionID,
		Content:         content,
		SourceType:      sourceType,
		SourceRef:       req.SourceRef,
		SelectionReason: req.SelectionReason,
		Version:         1,
		KeyPoints:       kps,
	}
	if err := s.AnswerRepo.Create(answer); err != nil {
		return nil, err
	}
	return s.AnswerRepo.FindByID(answer.ID)
}

func (s *RubricService) GetStandardAnswer(id uint) (*model.StandardAnswer, error) {
	a, err := s.AnswerRepo.FindByID(id)
	if err != nil {
		return nil, util.WrapNotFound(err, "standard answer", id)
	}
	return a, nil
}

// ReviseStandardAnswer 修订答案内容，版本号加一；可选整体替换得分点
func (s *RubricService) ReviseStandardAnswer(id uint, req ReviseStandardAnswerRequest) (*model.StandardAnswer, error) {
	err := s.AnswerRepo.DB.Transaction(func(tx *gorm.DB) error {
		repo := s.AnswerRepo.WithTx(tx)
		answer, err := repo.FindByID(id)
		if err != nil {
			return util.WrapNotFound(err, "standard answer", id)
		}

		if req.Content != nil {
			content := strings.TrimSpace(*req.Content)
			if content == "" {
				return util.Validation("content is required")
			}
			answer.Content = content
		}

		if req.KeyPoints != nil {
			kps := make([]model.AnswerKeyPoint, 0, len(*req.KeyPoints))
			for _, in := range *req.KeyPoints {
				kps = append(kps, in.toModel())
			}
			if err := validateKeyPoints(kps); err != nil {
				return err
			}
			if err := repo.ReplaceKeyPoints(id, kps); err != nil {
				return err
			}
		}

		answer.Version++
		return repo.Save(answer)
	})
	if err != nil {
		return nil, err
	}
	return s.AnswerRepo.FindByID(id)
}

// SetFinal 事务内切换最终答案，同一问题任意时刻最多一个
func (s *RubricService) SetFinal(id uint, actorID *uint, reason string) (*model.StandardAnswer, error) {
	err := s.AnswerRepo.DB.Transaction(func(tx *gorm.DB) error {
		repo := s.AnswerRepo.WithTx(tx)
		answer, err := repo.FindByIDUnscoped(id)
		if err != nil {
			return util.WrapNotFound(err, "standard answer", id)
		}
		if answer.DeletedAt.Valid {
			return util.Conflict("standard answer %d has been deleted", id)
		}
		if err := repo.ClearFinal(answer.QuestionID, answer.ID); err != nil {
			return err
		}
		if err := repo.MarkFinal(answer.ID, actorID, reason); err != nil {
			return err
		}
		return repo.UpsertFinalIndex(answer.QuestionID, answer.ID)
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("最终答案已更新", zap.Uint("answerId", id))
	final, err := s.AnswerRepo.FindByID(id)
	if err != nil {
		return nil, util.WrapNotFound(err, "standard answer", id)
	}
	return final, nil
}

func (s *RubricService) DeleteStandardAnswer(id uint) error {
	return s.AnswerRepo.DB.Transaction(func(tx *gorm.DB) error {
		repo := s.AnswerRepo.WithTx(tx)
		answer, err := repo.FindByID(id)
		if err != nil {
			return util.WrapNotFound(err, "standard answer", id)
		}
		if answer.IsFinal {
			if err := repo.ClearFinal(answer.QuestionID, 0); err != nil {
				return err
			}
			if err := repo.DeleteFinalIndex(answer.QuestionID, answer.ID); err != nil {
				return err
			}
		}
		return repo.Delete(id)
	})
}

func (s *RubricService) ListStandardAnswers(questionID uint, sourceType string, page, limit int) ([]model.StandardAnswer, int64, error) {
	page, limit = util.NormalizePage(page, limit)
	return s.AnswerRepo.List(questionID, sourceType, page, limit)
}

func (s *RubricService) ListByQuestion(questionID uint) ([]model.StandardAnswer, error) {
	return s.AnswerRepo.ListByQuestion(questionID)
}

func (s *RubricService) GetFinalAnswer(questionID uint) (*model.StandardAnswer, error) {
	a, err := s.AnswerRepo.FindFinal(questionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.NotFoundf("question %d has no final answer", questionID)
		}
		return nil, err
	}
	return a, nil
}

// --- 得分点 ---

func (s *RubricService) ListKeyPoints(answerID uint) ([]model.AnswerKeyPoint, error) {
	if _, err := s.AnswerRepo.FindByID(answerID); err != nil {
		return nil, util.WrapNotFound(err, "standard answer", answerID)
	}
	return s.AnswerRepo.ListKeyPoints(answerID)
}

// mutateKeyPoints 在事务内修改得分点，校验整体评分规则后答案版本加一
func (s *RubricService) mutateKeyPoints(answerID uint, fn func(repo *repository.StandardAnswerRepository, kps []model.AnswerKeyPoint) ([]model.AnswerKeyPoint, error)) error {
	return s.AnswerRepo.DB.Transaction(func(tx *gorm.DB) error {
		repo := s.AnswerRepo.WithTx(tx)
		if _, err := repo.FindByID(answerID); err != nil {
			return util.WrapNotFound(err, "standard answer", answerID)
		}
		current, err := repo.ListKeyPoints(answerID)
		if err != nil {
			return err
		}
		next, err := fn(repo, current)
		if err != nil {
			return err
		}
		if err := validateKeyPoints(next); err != nil {
			return err
		}
		return repo.BumpVersion(answerID)
	})
}

func (s *RubricService) AddKeyPoint(answerID uint, in KeyPointInput) (*model.AnswerKeyPoint, error) {
	kp := in.toModel()
	kp.AnswerID = answerID
	err := s.mutateKeyPoints(answerID, func(repo *repository.StandardAnswerRepository, current []model.AnswerKeyPoint) ([]model.AnswerKeyPoint, error) {
		next := append(current, kp)
		if err := validateKeyPoints(next); err != nil {
			return nil, err
		}
		if err := repo.CreateKeyPoint(&kp); err != nil {
			return nil, err
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	return &kp, nil
}

func (s *RubricService) UpdateKeyPoint(answerID, keyPointID uint, in KeyPointInput) (*model.AnswerKeyPoint, error) {
	var updated model.AnswerKeyPoint
	err := s.mutateKeyPoints(answerID, func(repo *repository.StandardAnswerRepository, current []model.AnswerKeyPoint) ([]model.AnswerKeyPoint, error) {
		next := make([]model.AnswerKeyPoint, 0, len(current))
		found := false
		for _, kp := range current {
			if kp.ID != keyPointID {
				next = append(next, kp)
				continue
			}
			found = true
			patch := in.toModel()
			kp.PointText = patch.PointText
			kp.PointOrder = patch.PointOrder
			kp.PointWeight = patch.PointWeight
			kp.PointType = patch.PointType
			kp.ExampleText = patch.ExampleText
			updated = kp
			next = append(next, kp)
		}
		if !found {
			return nil, util.NotFoundf("key point %d not found", keyPointID)
		}
		if err := validateKeyPoints(next); err != nil {
			return nil, err
		}
		if err := repo.SaveKeyPoint(&updated); err != nil {
			return nil, err
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *RubricService) DeleteKeyPoint(answerID, keyPointID uint) error {
	return s.mutateKeyPoints(answerID, func(repo *repository.StandardAnswerRepository, current []model.AnswerKeyPoint) ([]model.AnswerKeyPoint, error) {
		next := make([]model.AnswerKeyPoint, 0, len(current))
		found := false
		for _, kp := range current {
			if kp.ID == keyPointID {
				found = true
				continue
			}
			next = append(next, kp)
		}
		if !found {
			return nil, util.NotFoundf("key point %d not found", keyPointID)
		}
		if err := repo.DeleteKeyPoint(answerID, keyPointID); err != nil {
			return nil, err
		}
		return next, nil
	})
}
