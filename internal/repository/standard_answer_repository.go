package repository

import (
	"llm_eval_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type StandardAnswerRepository struct {
	DB *gorm.DB
}

func NewStandardAnswerRepository(db *gorm.DB) *StandardAnswerRepository {
	return &StandardAnswerRepository{DB: db}
}

func (r *StandardAnswerRepository) WithTx(tx *gorm.DB) *StandardAnswerRepository {
	return &StandardAnswerRepository{DB: tx}
}

func preloadKeyPoints(db *gorm.DB) *gorm.DB {
	return db.Order("point_order asc")
}

// Create 同时写入答案与得分点
func (r *StandardAnswerRepository) Create(answer *model.StandardAnswer) error {
	return r.DB.Create(answer).Error
}

func (r *StandardAnswerRepository) FindByID(id uint) (*model.StandardAnswer, error) {
	var a model.StandardAnswer
	err := r.DB.Preload("KeyPoints", preloadKeyPoints).First(&a, id).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// FindByIDUnscoped 包含已软删除的记录
func (r *StandardAnswerRepository) FindByIDUnscoped(id uint) (*model.StandardAnswer, error) {
	var a model.StandardAnswer
	err := r.DB.Unscoped().First(&a, id).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *StandardAnswerRepository) Save(answer *model.StandardAnswer) error {
	return r.DB.Omit("KeyPoints").Save(answer).Error
}

func (r *StandardAnswerRepository) Delete(id uint) error {
	return r.DB.Delete(&model.StandardAnswer{}, id).Error
}

func (r *StandardAnswerRepository) List(questionID uint, sourceType string, page, limit int) ([]model.StandardAnswer, int64, error) {
	query := r.DB.Model(&model.StandardAnswer{})
	if questionID > 0 {
		query = query.Where("question_id = ?", questionID)
	}
	if sourceType != "" {
		query = query.Where("source_type = ?", sourceType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var answers []model.StandardAnswer
	err := query.Preload("KeyPoints", preloadKeyPoints).
		Order("id desc").
		Offset((page - 1) * limit).Limit(limit).
		Find(&answers).Error
	return answers, total, err
}

func (r *StandardAnswerRepository) ListByQuestion(questionID uint) ([]model.StandardAnswer, error) {
	var answers []model.StandardAnswer
	err := r.DB.Preload("KeyPoints", preloadKeyPoints).
		Where("question_id = ?", questionID).
		Order("version desc, id desc").
		Find(&answers).Error
	return answers, err
}

// ClearFinal 清除同一问题下其他答案的 is_final
func (r *StandardAnswerRepository) ClearFinal(questionID, exceptID uint) error {
	return r.DB.Model(&model.StandardAnswer{}).
		Where("question_id = ? AND id <> ? AND is_final = ?", questionID, exceptID, true).
		Update("is_final", false).Error
}

// MarkFinal 标记最终答案并记录选择人与理由
func (r *StandardAnswerRepository) MarkFinal(id uint, selectedBy *uint, reason string) error {
	updates := map[string]interface{}{"is_final": true}
	if selectedBy != nil {
		updates["selected_by"] = *selectedBy
	}
	if reason != "" {
		updates["selection_reason"] = reason
	}
	return r.DB.Model(&model.StandardAnswer{}).Where("id = ?", id).Updates(updates).Error
}

// UpsertFinalIndex 写入问题到最终答案的索引
func (r *StandardAnswerRepository) UpsertFinalIndex(questionID, answerID uint) error {
	row := model.FinalAnswer{QuestionID: questionID, AnswerID: answerID}
	return r.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "question_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"answer_id", "updated_at"}),
	}).Create(&row).Error
}

func (r *StandardAnswerRepository) DeleteFinalIndex(questionID, answerID uint) error {
	return r.DB.Where("question_id = ? AND answer_id = ?", questionID, answerID).
		Delete(&model.FinalAnswer{}).Error
}

func (r *StandardAnswerRepository) FindFinal(questionID uint) (*model.StandardAnswer, error) {
	var idx model.FinalAnswer
	if err := r.DB.First(&idx, "question_id = ?", questionID).Error; err != nil {
		return nil, err
	}
	return r.FindByID(idx.AnswerID)
}

// FinalAnswersFor 批量读取问题的最终答案（含得分点），没有最终答案的问题不在结果中
func (r *StandardAnswerRepository) FinalAnswersFor(questionIDs []uint) (map[uint]model.StandardAnswer, error) {
	result := make(map[uint]model.StandardAnswer)
	if len(questionIDs) == 0 {
		return result, nil
	}
	var idx []model.FinalAnswer
	if err := r.DB.Where("question_id IN ?", questionIDs).Find(&idx).Error; err != nil {
		return nil, err
	}
	if len(idx) == 0 {
		return result, nil
	}
	answerIDs := make([]uint, 0, len(idx))
	for _, row := range idx {
		answerIDs = append(answerIDs, row.AnswerID)
	}
	var answers []model.StandardAnswer
	if err := r.DB.Preload("KeyPoints", preloadKeyPoints).
		Where("id IN ? AND is_final = ?", answerIDs, true).
		Find(&answers).Error; err != nil {
		return nil, err
	}
	for _, a := range answers {
		result[a.QuestionID] = a
	}
	return result, nil
}

// CountFinal 某问题当前 is_final 的答案数量
func (r *StandardAnswerRepository) CountFinal(questionID uint) (int64, error) {
	var n int64
	err := r.DB.Model(&model.StandardAnswer{}).
		Where("question_id = ? AND is_final = ?", questionID, true).
		Count(&n).Error
	return n, err
}

// BumpVersion 答案版本号加一
func (r *StandardAnswerRepository) BumpVersion(id uint) error {
	return r.DB.Model(&model.StandardAnswer{}).
		Where("id = ?", id).
		Update("version", gorm.Expr("version + 1")).Error
}

func (r *StandardAnswerRepository) ListKeyPoints(answerID uint) ([]model.AnswerKeyPoint, error) {
	var kps []model.AnswerKeyPoint
	err := r.DB.Where("answer_id = ?", answerID).Order("point_order asc").Find(&kps).Error
	return kps, err
}

func (r *StandardAnswerRepository) CreateKeyPoint(kp *model.AnswerKeyPoint) error {
	return r.DB.Create(kp).Error
}

func (r *StandardAnswerRepository) SaveKeyPoint(kp *model.AnswerKeyPoint) error {
	return r.DB.Save(kp).Error
}

func (r *StandardAnswerRepository) DeleteKeyPoint(answerID, keyPointID uint) error {
	return r.DB.Where("answer_id = ? AND id = ?", answerID, keyPointID).Delete(&model.AnswerKeyPoint{}).Error
}

// ReplaceKeyPoints 整体替换得分点
func (r *StandardAnswerRepository) ReplaceKeyPoints(answerID uint, kps []model.AnswerKeyPoint) error {
	if err := r.DB.Where("answer_id = ?", answerID).Delete(&model.AnswerKeyPoint{}).Error; err != nil {
		return err
	}
	if len(kps) == 0 {
		return nil
	}
	for i := range kps {
		kps[i].ID = 0
		kps[i].AnswerID = answerID
	}
	return r.DB.Create(&kps).Error
}
