package repository

import (
	"llm_eval_backend/internal/model"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CrowdsourcingRepository struct {
	DB *gorm.DB
}

func NewCrowdsourcingRepository(db *gorm.DB) *CrowdsourcingRepository {
	return &CrowdsourcingRepository{DB: db}
}

func (r *CrowdsourcingRepository) WithTx(tx *gorm.DB) *CrowdsourcingRepository {
	return &CrowdsourcingRepository{DB: tx}
}

// --- 任务 ---

func (r *CrowdsourcingRepository) CreateTask(task *model.CrowdsourcingTask) error {
	return r.DB.Create(task).Error
}

func (r *CrowdsourcingRepository) FindTaskByID(id uint) (*model.CrowdsourcingTask, error) {
	var task model.CrowdsourcingTask
	err := r.DB.First(&task, id).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *CrowdsourcingRepository) SaveTask(task *model.CrowdsourcingTask) error {
	return r.DB.Save(task).Error
}

// TransitionTask 条件更新任务状态，返回是否命中
func (r *CrowdsourcingRepository) TransitionTask(id uint, from []model.TaskStatus, to model.TaskStatus, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to, "updated_at": time.Now()}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.DB.Model(&model.CrowdsourcingTask{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (r *CrowdsourcingRepository) DeleteTask(id uint) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", id).Delete(&model.CrowdsourcingTaskQuestion{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.CrowdsourcingTask{}, id).Error
	})
}

type TaskListRow struct {
	model.CrowdsourcingTask
	QuestionCount int64 `json:"questionCount"`
	AnswerCount   int64 `json:"answerCount"`
}

func (r *CrowdsourcingRepository) ListTasks(status, taskType string, page, limit int) ([]TaskListRow, int64, error) {
	query := r.DB.Model(&model.CrowdsourcingTask{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if taskType != "" {
		query = query.Where("task_type = ?", taskType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var tasks []model.CrowdsourcingTask
	if err := query.Order("id desc").Offset((page - 1) * limit).Limit(limit).Find(&tasks).Error; err != nil {
		return nil, 0, err
	}

	rows := make([]TaskListRow, 0, len(tasks))
	for _, t := range tasks {
		row := TaskListRow{CrowdsourcingTask: t}
		r.DB.Model(&model.CrowdsourcingTaskQuestion{}).Where("task_id = ?", t.ID).Count(&row.QuestionCount)
		r.DB.Model(&model.CrowdsourcingAnswer{}).Where("task_id = ?", t.ID).Count(&row.AnswerCount)
		rows = append(rows, row)
	}
	return rows, total, nil
}

// --- 任务问题 ---

func (r *CrowdsourcingRepository) AttachQuestions(taskID uint, questionIDs []uint) error {
	if len(questionIDs) == 0 {
		return nil
	}
	links := make([]model.CrowdsourcingTaskQuestion, 0, len(questionIDs))
	for _, qid := range questionIDs {
		links = append(links, model.CrowdsourcingTaskQuestion{TaskID: taskID, QuestionID: qid})
	}
	return r.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&links).Error
}

func (r *CrowdsourcingRepository) DetachQuestion(taskID, questionID uint) error {
	return r.DB.Where("task_id = ? AND question_id = ?", taskID, questionID).
		Delete(&model.CrowdsourcingTaskQuestion{}).Error
}

func (r *CrowdsourcingRepository) TaskQuestionIDs(taskID uint) ([]uint, error) {
	var ids []uint
	err := r.DB.Model(&model.CrowdsourcingTaskQuestion{}).
		Where("task_id = ?", taskID).
		Order("question_id asc").
		Pluck("question_id", &ids).Error
	return ids, err
}

func (r *CrowdsourcingRepository) TaskQuestions(taskID uint) ([]model.StandardQuestion, error) {
	var qs []model.StandardQuestion
	err := r.DB.Joins("JOIN crowdsourcing_task_questions tq ON tq.question_id = standard_questions.id").
		Where("tq.task_id = ?", taskID).
		Order("standard_questions.id asc").
		Find(&qs).Error
	return qs, err
}

func (r *CrowdsourcingRepository) IsAttached(taskID, questionID uint) (bool, error) {
	var n int64
	err := r.DB.Model(&model.CrowdsourcingTaskQuestion{}).
		Where("task_id = ? AND question_id = ?", taskID, questionID).
		Count(&n).Error
	return n > 0, err
}

// --- 众包答案 ---

func (r *CrowdsourcingRepository) CreateAnswer(a *model.CrowdsourcingAnswer) error {
	return r.DB.Create(a).Error
}

func (r *CrowdsourcingRepository) FindAnswerByID(id uint) (*model.CrowdsourcingAnswer, error) {
	var a model.CrowdsourcingAnswer
	err := r.DB.First(&a, id).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// LockAnswer 事务内加行锁读取，读到的是最新提交的数据
func (r *CrowdsourcingRepository) LockAnswer(id uint) (*model.CrowdsourcingAnswer, error) {
	var a model.CrowdsourcingAnswer
	err := r.DB.Clauses(clause.Locking{Strength: "UPDATE"}).First(&a, id).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *CrowdsourcingRepository) SaveAnswer(a *model.CrowdsourcingAnswer) error {
	return r.DB.Save(a).Error
}

func (r *CrowdsourcingRepository) DeleteAnswer(id uint) error {
	return r.DB.Delete(&model.CrowdsourcingAnswer{}, id).Error
}

func (r *CrowdsourcingRepository) CountAnswers(taskID uint) (int64, error) {
	var n int64
	err := r.DB.Model(&model.CrowdsourcingAnswer{}).Where("task_id = ?", taskID).Count(&n).Error
	return n, err
}

type AnswerFilter struct {
	TaskID       uint
	QuestionID   uint
	ReviewStatus string
	UserID       uint
}

func (r *CrowdsourcingRepository) ListAnswers(filter AnswerFilter, page, limit int) ([]model.CrowdsourcingAnswer, int64, error) {
	query := r.DB.Model(&model.CrowdsourcingAnswer{})
	if filter.TaskID > 0 {
		query = query.Where("task_id = ?", filter.TaskID)
	}
	if filter.QuestionID > 0 {
		query = query.Where("question_id = ?", filter.QuestionID)
	}
	if filter.ReviewStatus != "" {
		query = query.Where("review_status = ?", filter.ReviewStatus)
	}
	if filter.UserID > 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var answers []model.CrowdsourcingAnswer
	err := query.Order("id desc").Offset((page - 1) * limit).Limit(limit).Find(&answers).Error
	return answers, total, err
}

// TransitionReview pending 才能进入终态
func (r *CrowdsourcingRepository) TransitionReview(id uint, to model.ReviewStatus, reviewerID uint, comment string, quality *int) (bool, error) {
	now := time.Now()
	updates := map[string]interface{}{
		"review_status":  to,
		"reviewer_id":    reviewerID,
		"review_comment": comment,
		"reviewed_at":    &now,
		"updated_at":     now,
	}
	if quality != nil {
		updates["quality_score"] = *quality
	}
	res := r.DB.Model(&model.CrowdsourcingAnswer{}).
		Where("id = ? AND review_status = ?", id, model.ReviewPending).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

// ClaimSelection 仅当尚未选中时置位，返回是否由本次调用完成
func (r *CrowdsourcingRepository) ClaimSelection(id uint) (bool, error) {
	res := r.DB.Model(&model.CrowdsourcingAnswer{}).
		Where("id = ? AND is_selected = ? AND review_status = ?", id, false, model.ReviewApproved).
		Updates(map[string]interface{}{"is_selected": true, "updated_at": time.Now()})
	return res.RowsAffected > 0, res.Error
}

func (r *CrowdsourcingRepository) SetSelectedStandardAnswer(id, standardAnswerID uint) error {
	return r.DB.Model(&model.CrowdsourcingAnswer{}).
		Where("id = ?", id).
		Update("selected_standard_answer_id", standardAnswerID).Error
}

// ApprovedCounts 每个问题已通过的答案数
func (r *CrowdsourcingRepository) ApprovedCounts(taskID uint) (map[uint]int64, error) {
	type row struct {
		QuestionID uint
		N          int64
	}
	var rows []row
	err := r.DB.Model(&model.CrowdsourcingAnswer{}).
		Select("question_id, COUNT(*) AS n").
		Where("task_id = ? AND review_status = ?", taskID, model.ReviewApproved).
		Group("question_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[uint]int64, len(rows))
	for _, rr := range rows {
		counts[rr.QuestionID] = rr.N
	}
	return counts, nil
}

type AnswerStats struct {
	QuestionID     uint     `json:"questionId"`
	Total          int64    `json:"total"`
	Pending        int64    `json:"pending"`
	Approved       int64    `json:"approved"`
	Rejected       int64    `json:"rejected"`
	Selected       int64    `json:"selected"`
	AverageQuality *float64 `json:"averageQuality,omitempty"`
}

func (r *CrowdsourcingRepository) QuestionStats(questionID uint) (*AnswerStats, error) {
	stats := &AnswerStats{QuestionID: questionID}
	type row struct {
		ReviewStatus string
		N            int64
	}
	var rows []row
	if err := r.DB.Model(&model.CrowdsourcingAnswer{}).
		Select("review_status, COUNT(*) AS n").
		Where("question_id = ?", questionID).
		Group("review_status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, rr := range rows {
		stats.Total += rr.N
		switch model.ReviewStatus(rr.ReviewStatus) {
		case model.ReviewPending:
			stats.Pending = rr.N
		case model.ReviewApproved:
			stats.Approved = rr.N
		case model.ReviewRejected:
			stats.Rejected = rr.N
		}
	}
	if err := r.DB.Model(&model.CrowdsourcingAnswer{}).
		Where("question_id = ? AND is_selected = ?", questionID, true).
		Count(&stats.Selected).Error; err != nil {
		return nil, err
	}

	var avg struct{ V *float64 }
	if err := r.DB.Model(&model.CrowdsourcingAnswer{}).
		Select("AVG(quality_score) AS v").
		Where("question_id = ? AND quality_score IS NOT NULL", questionID).
		Scan(&avg).Error; err != nil {
		return nil, err
	}
	stats.AverageQuality = avg.V
	return stats, nil
}
