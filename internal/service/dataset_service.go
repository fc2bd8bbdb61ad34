package service

import (
	"llm_eval_backend/internal/model"
	"llm_eval_backend/internal/repository"
	"llm_eval_backend/internal/util"
	"llm_eval_backend/pkg/logger"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DatasetService 数据集版本编排与发布
type DatasetService struct {
	Repo         *repository.DatasetRepository
	QuestionRepo *repository.QuestionRepository
}

func NewDatasetService(repo *repository.DatasetRepository, questionRepo *repository.QuestionRepository) *DatasetService {
	return &DatasetService{Repo: repo, QuestionRepo: questionRepo}
}

type CreateDatasetRequest struct {
	Name          string `json:"name" binding:"required"`
	Description   string `json:"description"`
	QuestionIDs   []uint `json:"questionIds"`
	BaseVersionID *uint  `json:"baseVersionId"`
}

type UpdateDatasetRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (s *DatasetService) checkQuestions(ids []uint) error {
	found, err := s.QuestionRepo.ExistingIDs(ids)
	if err != nil {
		return err
	}
	exists := make(map[uint]bool, len(found))
	for _, id := range found {
		exists[id] = true
	}
	for _, id := range ids {
		if !exists[id] {
			return util.NotFoundf("question %d not found", id)
		}
	}
	return nil
}

func (s *DatasetService) Create(req CreateDatasetRequest, creatorID uint) (*model.DatasetVersion, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, util.Validation("name is required")
	}
	taken, err := s.Repo.NameTaken(name, 0)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, util.Validation("dataset version name %q already exists", name)
	}
	if err := s.checkQuestions(req.QuestionIDs); err != nil {
		return nil, err
	}

	version := &model.DatasetVersion{
		Name:          name,
		Description:   req.Description,
		BaseVersionID: req.BaseVersionID,
		CreatedBy:     creatorID,
	}
	err = s.Repo.DB.Transaction(func(tx *gorm.DB) error {
		repo := s.Repo.WithTx(tx)
		ids := req.QuestionIDs
		if req.BaseVersionID != nil {
			if _, err := repo.FindByID(*req.BaseVersionID); err != nil {
				return util.WrapNotFound(err, "dataset version", *req.BaseVersionID)
			}
			baseIDs, err := repo.QuestionIDs(*req.BaseVersionID)
			if err != nil {
				return err
			}
			ids = append(baseIDs, ids...)
		}
		ids = uniqueIDs(ids)
		if err := repo.Create(version); err != nil {
			return err
		}
		if err := repo.AddQuestions(version.ID, ids); err != nil {
			return err
		}
		n, err := repo.SyncQuestionCount(version.ID)
		version.QuestionCount = n
		return err
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

func (s *DatasetService) Get(id uint) (*model.DatasetVersion, error) {
	v, err := s.Repo.FindByID(id)
	if err != nil {
		return nil, util.WrapNotFound(err, "dataset version", id)
	}
	return v, nil
}

func (s *DatasetService) List(published *bool, keyword string, page, limit int) ([]model.DatasetVersion, int64, error) {
	page, limit = util.NormalizePage(page, limit)
	return s.Repo.List(published, keyword, page, limit)
}

func (s *DatasetService) Update(id uint, req UpdateDatasetRequest) (*model.DatasetVersion, error) {
	v, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, util.Validation("name is required")
		}
		taken, err := s.Repo.NameTaken(name, id)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, util.Validation("dataset version name %q already exists", name)
		}
		v.Name = name
	}
	if req.Description != nil {
		v.Description = *req.Description
	}
	if err := s.Repo.Save(v); err != nil {
		return nil, err
	}
	return v, nil
}

// Publish 空数据集不能发布
func (s *DatasetService) Publish(id uint) (*model.DatasetVersion, error) {
	var (
		v         *model.DatasetVersion
		published bool
	)
	err := s.Repo.DB.Transaction(func(tx *gorm.DB) error {
		repo := s.Repo.WithTx(tx)
		locked, err := repo.LockByID(id)
		if err != nil {
			return util.WrapNotFound(err, "dataset version", id)
		}
		v = locked
		if v.IsPublished {
			return nil
		}
		n, err := repo.SyncQuestionCount(id)
		if err != nil {
			return err
		}
		if n == 0 {
			return util.Validation("dataset version %d has no questions", id)
		}
		now := time.Now()
		v.IsPublished = true
		v.ReleaseDate = &now
		v.QuestionCount = n
		published = true
		return repo.Save(v)
	})
	if err != nil {
		return nil, err
	}
	if published {
		logger.Log.Info("数据集版本已发布", zap.Uint("datasetVersionId", id), zap.Int("questions", v.QuestionCount))
	}
	return v, nil
}

// Unpublish 被评测批次引用时拒绝
func (s *DatasetService) Unpublish(id uint) (*model.DatasetVersion, error) {
	var v *model.DatasetVersion
	err := s.Repo.DB.Transaction(func(tx *gorm.DB) error {
		repo := s.Repo.WithTx(tx)
		locked, err := repo.LockByID(id)
		if err != nil {
			return util.WrapNotFound(err, "dataset version", id)
		}
		refs, err := repo.ReferencingBatches(id)
		if err != nil {
			return err
		}
		if refs > 0 {
			return util.Conflict("dataset version %d is referenced by %d evaluation batches", id, refs)
		}
		v = locked
		v.IsPublished = false
		v.ReleaseDate = nil
		return repo.Save(v)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// editMembership 在行锁内确认未发布后修改题目映射
func (s *DatasetService) editMembership(id uint, change func(repo *repository.DatasetRepository) error) (*model.DatasetVersion, error) {
	var v *model.DatasetVersion
	err := s.Repo.DB.Transaction(func(tx *gorm.DB) error {
		repo := s.Repo.WithTx(tx)
		locked, err := repo.LockByID(id)
		if err != nil {
			return util.WrapNotFound(err, "dataset version", id)
		}
		if locked.IsPublished {
			return util.InvalidState("dataset version %d is published", id)
		}
		if err := change(repo); err != nil {
			return err
		}
		v = locked
		v.QuestionCount, err = repo.SyncQuestionCount(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *DatasetService) AddQuestions(id uint, questionIDs []uint) (*model.DatasetVersion, error) {
	if _, err := s.Get(id); err != nil {
		return nil, err
	}
	if len(questionIDs) == 0 {
		return nil, util.Validation("questionIds is required")
	}
	if err := s.checkQuestions(questionIDs); err != nil {
		return nil, err
	}
	return s.editMembership(id, func(repo *repository.DatasetRepository) error {
		return repo.AddQuestions(id, uniqueIDs(questionIDs))
	})
}

func (s *DatasetService) RemoveQuestion(id, questionID uint) (*model.DatasetVersion, error) {
	return s.editMembership(id, func(repo *repository.DatasetRepository) error {
		removed, err := repo.RemoveQuestion(id, questionID)
		if err != nil {
			return err
		}
		if !removed {
			return util.NotFoundf("question %d is not in dataset version %d", questionID, id)
		}
		return nil
	})
}

func (s *DatasetService) Questions(id uint) ([]model.StandardQuestion, error) {
	if _, err := s.Get(id); err != nil {
		return nil, err
	}
	return s.Repo.Questions(id)
}

// Delete 已发布或被批次引用的版本不可删除
func (s *DatasetService) Delete(id uint) error {
	return s.Repo.DB.Transaction(func(tx *gorm.DB) error {
		repo := s.Repo.WithTx(tx)
		v, err := repo.LockByID(id)
		if err != nil {
			return util.WrapNotFound(err, "dataset version", id)
		}
		if v.IsPublished {
			return util.InvalidState("dataset version %d is published", id)
		}
		refs, err := repo.ReferencingBatches(id)
		if err != nil {
			return err
		}
		if refs > 0 {
			return util.Conflict("dataset version %d is referenced by %d evaluation batches", id, refs)
		}
		return repo.Delete(id)
	})
}
