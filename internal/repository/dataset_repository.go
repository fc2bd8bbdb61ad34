package repository

import (
	"llm_eval_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DatasetRepository struct {
	DB *gorm.DB
}

func NewDatasetRepository(db *gorm.DB) *DatasetRepository {
	return &DatasetRepository{DB: db}
}

func (r *DatasetRepository) WithTx(tx *gorm.DB) *DatasetRepository {
	return &DatasetRepository{DB: tx}
}

func (r *DatasetRepository) Create(v *model.DatasetVersion) error {
	return r.DB.Create(v).Error
}

func (r *DatasetRepository) FindByID(id uint) (*model.DatasetVersion, error) {
	var v model.DatasetVersion
	err := r.DB.First(&v, id).Error
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// LockByID 事务内加行锁读取，发布状态的检查与修改在锁内完成
func (r *DatasetRepository) LockByID(id uint) (*model.DatasetVersion, error) {
	var v model.DatasetVersion
	err := r.DB.Clauses(clause.Locking{Strength: "UPDATE"}).First(&v, id).Error
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// NameTaken 名称唯一索引覆盖软删除记录
func (r *DatasetRepository) NameTaken(name string, exceptID uint) (bool, error) {
	var n int64
	err := r.DB.Unscoped().Model(&model.DatasetVersion{}).
		Where("name = ? AND id <> ?", name, exceptID).
		Count(&n).Error
	return n > 0, err
}

func (r *DatasetRepository) Save(v *model.DatasetVersion) error {
	return r.DB.Save(v).Error
}

func (r *DatasetRepository) Delete(id uint) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("dataset_version_id = ?", id).Delete(&model.DatasetQuestion{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.DatasetVersion{}, id).Error
	})
}

func (r *DatasetRepository) List(published *bool, keyword string, page, limit int) ([]model.DatasetVersion, int64, error) {
	query := r.DB.Model(&model.DatasetVersion{})
	if published != nil {
		query = query.Where("is_published = ?", *published)
	}
	if keyword != "" {
		query = query.Where("name LIKE ? OR description LIKE ?", "%"+keyword+"%", "%"+keyword+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var versions []model.DatasetVersion
	err := query.Order("id desc").Offset((page - 1) * limit).Limit(limit).Find(&versions).Error
	return versions, total, err
}

func (r *DatasetRepository) AddQuestions(versionID uint, questionIDs []uint) error {
	if len(questionIDs) == 0 {
		return nil
	}
	links := make([]model.DatasetQuestion, 0, len(questionIDs))
	for _, qid := range questionIDs {
		links = append(links, model.DatasetQuestion{DatasetVersionID: versionID, QuestionID: qid})
	}
	return r.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&links).Error
}

func (r *DatasetRepository) RemoveQuestion(versionID, questionID uint) (bool, error) {
	res := r.DB.Where("dataset_version_id = ? AND question_id = ?", versionID, questionID).
		Delete(&model.DatasetQuestion{})
	return res.RowsAffected > 0, res.Error
}

func (r *DatasetRepository) QuestionIDs(versionID uint) ([]uint, error) {
	var ids []uint
	err := r.DB.Model(&model.DatasetQuestion{}).
		Where("dataset_version_id = ?", versionID).
		Order("question_id asc").
		Pluck("question_id", &ids).Error
	return ids, err
}

func (r *DatasetRepository) Questions(versionID uint) ([]model.StandardQuestion, error) {
	var qs []model.StandardQuestion
	err := r.DB.Joins("JOIN dataset_questions dq ON dq.question_id = standard_questions.id").
		Where("dq.dataset_version_id = ?", versionID).
		Order("standard_questions.id asc").
		Find(&qs).Error
	return qs, err
}

// SyncQuestionCount 以映射表为准刷新题目数
func (r *DatasetRepository) SyncQuestionCount(versionID uint) (int, error) {
	var n int64
	if err := r.DB.Model(&model.DatasetQuestion{}).Where("dataset_version_id = ?", versionID).Count(&n).Error; err != nil {
		return 0, err
	}
	err := r.DB.Model(&model.DatasetVersion{}).Where("id = ?", versionID).Update("question_count", n).Error
	return int(n), err
}

// ReferencingBatches 引用该版本的评测批次数量
func (r *DatasetRepository) ReferencingBatches(versionID uint) (int64, error) {
	var n int64
	err := r.DB.Model(&model.EvaluationBatch{}).Where("dataset_version_id = ?", versionID).Count(&n).Error
	return n, err
}
