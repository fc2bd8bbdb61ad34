package service

import (
	"fmt"
	"llm_eval_backend/internal/model"
	"llm_eval_backend/internal/repository"
	"llm_eval_backend/internal/scoring"
	"llm_eval_backend/internal/util"
	"llm_eval_backend/pkg/logger"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CrowdsourcingService 众包任务、答案收集、审核与选优
type CrowdsourcingService struct {
	Repo         *repository.CrowdsourcingRepository
	QuestionRepo *repository.QuestionRepository
	AnswerRepo   *repository.StandardAnswerRepository

	now func() time.Time
}

func NewCrowdsourcingService(
	repo *repository.CrowdsourcingRepository,
	questionRepo *repository.QuestionRepository,
	answerRepo *repository.StandardAnswerRepository,
) *CrowdsourcingService {
	return &CrowdsourcingService{
		Repo:         repo,
		QuestionRepo: questionRepo,
		AnswerRepo:   answerRepo,
		now:          time.Now,
	}
}

type CreateTaskRequest struct {
	Title                 string     `json:"title" binding:"required"`
	Description           string     `json:"description"`
	TaskType              string     `json:"taskType"`
	MinAnswersPerQuestion int        `json:"minAnswersPerQuestion"`
	StartTime             *time.Time `json:"startTime"`
	EndTime               *time.Time `json:"endTime"`
	QuestionIDs           []uint     `json:"questionIds"`
}

type UpdateTaskRequest struct {
	Title                 *string    `json:"title"`
	Description           *string    `json:"description"`
	TaskType              *string    `json:"taskType"`
	MinAnswersPerQuestion *int       `json:"minAnswersPerQuestion"`
	StartTime             *time.Time `json:"startTime"`
	EndTime               *time.Time `json:"endTime"`
	QuestionIDs           *[]uint    `json:"questionIds"`
}

type SubmitAnswerRequest struct {
	TaskID           uint   `json:"taskId" binding:"required"`
	QuestionID       uint   `json:"questionId" binding:"required"`
	AnswerText       string `json:"answerText" binding:"required"`
	ContributorName  string `json:"contributorName"`
	ContributorEmail string `json:"contributorEmail"`
}

type ReviewRequest struct {
	Approved     bool   `json:"approved"`
	Comment      string `json:"comment"`
	QualityScore *int   `json:"qualityScore"`
}

type BatchReviewItem struct {
	AnswerID uint `json:"answerId" binding:"required"`
	ReviewRequest
}

type BatchReviewResult struct {
	AnswerID uint           `json:"answerId"`
	Success  bool           `json:"success"`
	Kind     util.ErrorKind `json:"kind,omitempty"`
	Error    string         `json:"error,omitempty"`
}

type AnswerComparison struct {
	AnswerA uint `json:"answerA"`
	AnswerB uint `json:"answerB"`
	scoring.Diff
}

func validQuality(score *int) error {
	if score != nil && (*score < 1 || *score > 5) {
		return util.Validation("quality score must be between 1 and 5")
	}
	return nil
}

func (s *CrowdsourcingService) checkQuestions(ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
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

// --- 任务 ---

func (s *CrowdsourcingService) CreateTask(req CreateTaskRequest, creatorID uint) (*model.CrowdsourcingTask, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, util.Validation("title is required")
	}
	taskType := model.TaskType(req.TaskType)
	if taskType == "" {
		taskType = model.TaskAnswerCollection
	}
	if !taskType.Valid() {
		return nil, util.Validation("invalid task type %q", req.TaskType)
	}
	minAnswers := req.MinAnswersPerQuestion
	if minAnswers == 0 {
		minAnswers = 3
	}
	if minAnswers < 1 {
		return nil, util.Validation("minAnswersPerQuestion must be positive")
	}
	if req.StartTime != nil && req.EndTime != nil && req.EndTime.Before(*req.StartTime) {
		return nil, util.Validation("endTime must not be before startTime")
	}
	if err := s.checkQuestions(req.QuestionIDs); err != nil {
		return nil, err
	}

	task := &model.CrowdsourcingTask{
		Title:                 title,
		Description:           req.Description,
		TaskType:              taskType,
		CreatorID:             creatorID,
		MinAnswersPerQuestion: minAnswers,
		Status:                model.TaskDraft,
		StartTime:             req.StartTime,
		EndTime:               req.EndTime,
	}
	err := s.Repo.DB.Transaction(func(tx *gorm.DB) error {
		repo := s.Repo.WithTx(tx)
		if err := repo.CreateTask(task); err != nil {
			return err
		}
		return repo.AttachQuestions(task.ID, req.QuestionIDs)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (s *CrowdsourcingService) GetTask(id uint) (*model.CrowdsourcingTask, error) {
	task, err := s.Repo.FindTaskByID(id)
	if err != nil {
		return nil, util.WrapNotFound(err, "crowdsourcing task", id)
	}
	return task, nil
}

func (s *CrowdsourcingService) ListTasks(status, taskType string, page, limit int) ([]repository.TaskListRow, int64, error) {
	if status != "" {
		parsed, ok := model.ParseTaskStatus(status)
		if !ok {
			return nil, 0, util.Validation("invalid task status %q", status)
		}
		status = string(parsed)
	}
	page, limit = util.NormalizePage(page, limit)
	return s.Repo.ListTasks(status, taskType, page, limit)
}

// UpdateTask 草稿可改全部字段；已发布只能改标题、描述以及调低每题最少答案数
func (s *CrowdsourcingService) UpdateTask(id uint, req UpdateTaskRequest) (*model.CrowdsourcingTask, error) {
	task, err := s.GetTask(id)
	if err != nil {
		return nil, err
	}
	if task.Status.Terminal() {
		return nil, util.InvalidState("task %d is %s", id, task.Status)
	}

	published := task.Status == model.TaskPublished
	if published && (req.TaskType != nil || req.StartTime != nil || req.EndTime != nil || req.QuestionIDs != nil) {
		return nil, util.InvalidState("published task %d only accepts title, description and a lower minAnswersPerQuestion", id)
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, util.Validation("title is required")
		}
		task.Title = title
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.MinAnswersPerQuestion != nil {
		n := *req.MinAnswersPerQuestion
		if n < 1 {
			return nil, util.Validation("minAnswersPerQuestion must be positive")
		}
		if published && n > task.MinAnswersPerQuestion {
			return nil, util.InvalidState("published task %d may only lower minAnswersPerQuestion", id)
		}
		task.MinAnswersPerQuestion = n
	}
	if req.TaskType != nil {
		tt := model.TaskType(*req.TaskType)
		if !tt.Valid() {
			return nil, util.Validation("invalid task type %q", *req.TaskType)
		}
		task.TaskType = tt
	}
	if req.StartTime != nil {
		task.StartTime = req.StartTime
	}
	if req.EndTime != nil {
		task.EndTime = req.EndTime
	}
	if task.StartTime != nil && task.EndTime != nil && task.EndTime.Before(*task.StartTime) {
		return nil, util.Validation("endTime must not be before startTime")
	}
	if req.QuestionIDs != nil {
		if err := s.checkQuestions(*req.QuestionIDs); err != nil {
			return nil, err
		}
	}

	err = s.Repo.DB.Transaction(func(tx *gorm.DB) error {
		repo := s.Repo.WithTx(tx)
		if err := repo.SaveTask(task); err != nil {
			return err
		}
		if req.QuestionIDs == nil {
			return nil
		}
		current, err := repo.TaskQuestionIDs(id)
		if err != nil {
			return err
		}
		for _, qid := range current {
			if err := repo.DetachQuestion(id, qid); err != nil {
				return err
			}
		}
		return repo.AttachQuestions(id, *req.QuestionIDs)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// DeleteTask 只允许删除草稿或没有任何答案的任务
func (s *CrowdsourcingService) DeleteTask(id uint) error {
	task, err := s.GetTask(id)
	if err != nil {
		return err
	}
	if task.Status != model.TaskDraft {
		n, err := s.Repo.CountAnswers(id)
		if err != nil {
			return err
		}
		if n > 0 {
			return util.InvalidState("task %d already has %d answers", id, n)
		}
	}
	return s.Repo.DeleteTask(id)
}

func (s *CrowdsourcingService) transition(id uint, target model.TaskStatus) (*model.CrowdsourcingTask, error) {
	task, err := s.GetTask(id)
	if err != nil {
		return nil, err
	}
	if !task.Status.CanTransitionTo(target) {
		return nil, util.InvalidState("task %d cannot move from %s to %s", id, task.Status, target)
	}

	now := s.now()
	extra := map[string]interface{}{}
	switch target {
	case model.TaskPublished:
		ids, err := s.Repo.TaskQuestionIDs(id)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, util.Validation("task %d has no questions", id)
		}
		extra["published_at"] = &now
	case model.TaskCompleted, model.TaskClosed:
		extra["completed_at"] = &now
	}

	ok, err := s.Repo.TransitionTask(id, []model.TaskStatus{task.Status}, target, extra)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, util.InvalidState("task %d changed concurrently", id)
	}
	logger.Log.Info("众包任务状态变更",
		zap.Uint("taskId", id),
		zap.String("from", string(task.Status)),
		zap.String("to", string(target)))
	return s.GetTask(id)
}

func (s *CrowdsourcingService) PublishTask(id uint) (*model.CrowdsourcingTask, error) {
	return s.transition(id, model.TaskPublished)
}

func (s *CrowdsourcingService) CompleteTask(id uint) (*model.CrowdsourcingTask, error) {
	return s.transition(id, model.TaskCompleted)
}

func (s *CrowdsourcingService) CloseTask(id uint) (*model.CrowdsourcingTask, error) {
	return s.transition(id, model.TaskClosed)
}

// UpdateTaskStatus 接受 ongoing / cancelled 等别名
func (s *CrowdsourcingService) UpdateTaskStatus(id uint, raw string) (*model.CrowdsourcingTask, error) {
	target, ok := model.ParseTaskStatus(raw)
	if !ok {
		return nil, util.Validation("invalid task status %q", raw)
	}
	return s.transition(id, target)
}

func (s *CrowdsourcingService) ListTaskQuestions(taskID uint) ([]model.StandardQuestion, error) {
	if _, err := s.GetTask(taskID); err != nil {
		return nil, err
	}
	return s.Repo.TaskQuestions(taskID)
}

// --- 答案 ---

func (s *CrowdsourcingService) SubmitAnswer(req SubmitAnswerRequest, userID *uint) (*model.CrowdsourcingAnswer, error) {
	text := strings.TrimSpace(req.AnswerText)
	if text == "" {
		return nil, util.Validation("answerText is required")
	}
	task, err := s.GetTask(req.TaskID)
	if err != nil {
		return nil, err
	}
	if !task.Open(s.now()) {
		return nil, util.InvalidState("task %d is not accepting answers", task.ID)
	}
	attached, err := s.Repo.IsAttached(task.ID, req.QuestionID)
	if err != nil {
		return nil, err
	}
	if !attached {
		return nil, util.Validation("question %d is not part of task %d", req.QuestionID, task.ID)
	}

	answer := &model.CrowdsourcingAnswer{
		TaskID:           task.ID,
		QuestionID:       req.QuestionID,
		UserID:           userID,
		ContributorName:  req.ContributorName,
		ContributorEmail: req.ContributorEmail,
		AnswerText:       text,
		ReviewStatus:     model.ReviewPending,
	}
	if err := s.Repo.CreateAnswer(answer); err != nil {
		return nil, err
	}
	return answer, nil
}

func (s *CrowdsourcingService) GetAnswer(id uint) (*model.CrowdsourcingAnswer, error) {
	a, err := s.Repo.FindAnswerByID(id)
	if err != nil {
		return nil, util.WrapNotFound(err, "crowdsourcing answer", id)
	}
	return a, nil
}

func (s *CrowdsourcingService) UpdateAnswer(id uint, text string) (*model.CrowdsourcingAnswer, error) {
	a, err := s.GetAnswer(id)
	if err != nil {
		return nil, err
	}
	if a.ReviewStatus != model.ReviewPending {
		return nil, util.InvalidState("answer %d is already %s", id, a.ReviewStatus)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, util.Validation("answerText is required")
	}
	a.AnswerText = text
	if err := s.Repo.SaveAnswer(a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *CrowdsourcingService) DeleteAnswer(id uint) error {
	a, err := s.GetAnswer(id)
	if err != nil {
		return err
	}
	if a.ReviewStatus != model.ReviewPending {
		return util.InvalidState("answer %d is already %s", id, a.ReviewStatus)
	}
	return s.Repo.DeleteAnswer(id)
}

func (s *CrowdsourcingService) ListAnswers(filter repository.AnswerFilter, page, limit int) ([]model.CrowdsourcingAnswer, int64, error) {
	page, limit = util.NormalizePage(page, limit)
	return s.Repo.ListAnswers(filter, page, limit)
}

// ReviewAnswer pending 答案进入 approved / rejected 终态
func (s *CrowdsourcingService) ReviewAnswer(id uint, req ReviewRequest, reviewerID uint) (*model.CrowdsourcingAnswer, error) {
	if err := validQuality(req.QualityScore); err != nil {
		return nil, err
	}
	a, err := s.GetAnswer(id)
	if err != nil {
		return nil, err
	}
	if a.ReviewStatus != model.ReviewPending {
		return nil, util.InvalidState("answer %d is already %s", id, a.ReviewStatus)
	}
	// 贡献者不能审核自己的答案
	if a.UserID != nil && *a.UserID == reviewerID {
		return nil, fmt.Errorf("%w: reviewer %d submitted answer %d", util.ErrPermissionDenied, reviewerID, id)
	}

	target := model.ReviewRejected
	if req.Approved {
		target = model.ReviewApproved
	}
	ok, err := s.Repo.TransitionReview(id, target, reviewerID, req.Comment, req.QualityScore)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, util.InvalidState("answer %d was reviewed concurrently", id)
	}

	if target == model.ReviewApproved {
		s.maybeCompleteTask(a.TaskID)
	}
	return s.GetAnswer(id)
}

// maybeCompleteTask 每道题的通过答案都达到最少数量时自动完成任务
func (s *CrowdsourcingService) maybeCompleteTask(taskID uint) {
	task, err := s.Repo.FindTaskByID(taskID)
	if err != nil || task.Status != model.TaskPublished {
		return
	}
	qids, err := s.Repo.TaskQuestionIDs(taskID)
	if err != nil || len(qids) == 0 {
		return
	}
	counts, err := s.Repo.ApprovedCounts(taskID)
	if err != nil {
		logger.Log.Warn("统计通过答案失败", zap.Uint("taskId", taskID), zap.Error(err))
		return
	}
	for _, qid := range qids {
		if counts[qid] < int64(task.MinAnswersPerQuestion) {
			return
		}
	}
	now := s.now()
	ok, err := s.Repo.TransitionTask(taskID, []model.TaskStatus{model.TaskPublished}, model.TaskCompleted,
		map[string]interface{}{"completed_at": &now})
	if err != nil {
		logger.Log.Warn("自动完成任务失败", zap.Uint("taskId", taskID), zap.Error(err))
		return
	}
	if ok {
		logger.Log.Info("众包任务已收集足够答案，自动完成", zap.Uint("taskId", taskID))
	}
}

// BatchReviewAnswers 逐条审核，单条失败不影响其他
func (s *CrowdsourcingService) BatchReviewAnswers(items []BatchReviewItem, reviewerID uint) []BatchReviewResult {
	results := make([]BatchReviewResult, 0, len(items))
	for _, item := range items {
		res := BatchReviewResult{AnswerID: item.AnswerID, Success: true}
		if _, err := s.ReviewAnswer(item.AnswerID, item.ReviewRequest, reviewerID); err != nil {
			res.Success = false
			res.Kind = util.KindOf(err)
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results
}

func (s *CrowdsourcingService) RateAnswer(id uint, score int) (*model.CrowdsourcingAnswer, error) {
	if err := validQuality(&score); err != nil {
		return nil, err
	}
	a, err := s.GetAnswer(id)
	if err != nil {
		return nil, err
	}
	a.QualityScore = &score
	if err := s.Repo.SaveAnswer(a); err != nil {
		return nil, err
	}
	return a, nil
}

// SelectAsStandardAnswer 将通过审核的众包答案沉淀为标准答案，重复调用返回同一条
func (s *CrowdsourcingService) SelectAsStandardAnswer(id uint, actorID uint, reason string) (*model.StandardAnswer, error) {
	var standardID uint
	err := s.Repo.DB.Transaction(func(tx *gorm.DB) error {
		repo := s.Repo.WithTx(tx)
		answers := s.AnswerRepo.WithTx(tx)

		a, err := repo.LockAnswer(id)
		if err != nil {
			return util.WrapNotFound(err, "crowdsourcing answer", id)
		}
		if a.ReviewStatus != model.ReviewApproved {
			return util.InvalidState("answer %d is %s, only approved answers can be selected", id, a.ReviewStatus)
		}
		if a.IsSelected && a.SelectedStandardAnswerID != nil {
			standardID = *a.SelectedStandardAnswerID
			return nil
		}

		claimed, err := repo.ClaimSelection(id)
		if err != nil {
			return err
		}
		if !claimed {
			// 并发选优已经完成，按重复选择处理
			current, err := repo.LockAnswer(id)
			if err != nil {
				return util.WrapNotFound(err, "crowdsourcing answer", id)
			}
			if current.SelectedStandardAnswerID == nil {
				return util.Conflict("answer %d is being selected concurrently", id)
			}
			standardID = *current.SelectedStandardAnswerID
			return nil
		}

		if reason == "" {
			reason = "selected from crowdsourced answers"
		}
		selectedBy := actorID
		standard := &model.StandardAnswer{
			QuestionID:      a.QuestionID,
			Content:         a.AnswerText,
			SourceType:      model.SourceCrowdsourced,
			SourceRef:       strconv.FormatUint(uint64(a.ID), 10),
			SelectionReason: reason,
			SelectedBy:      &selectedBy,
			Version:         1,
		}
		if err := answers.Create(standard); err != nil {
			return err
		}
		standardID = standard.ID
		return repo.SetSelectedStandardAnswer(id, standard.ID)
	})
	if err != nil {
		return nil, err
	}
	standard, err := s.AnswerRepo.FindByID(standardID)
	if err != nil {
		return nil, util.WrapNotFound(err, "standard answer", standardID)
	}
	return standard, nil
}

func (s *CrowdsourcingService) CompareAnswers(aID, bID uint) (*AnswerComparison, error) {
	a, err := s.GetAnswer(aID)
	if err != nil {
		return nil, err
	}
	b, err := s.GetAnswer(bID)
	if err != nil {
		return nil, err
	}
	return &AnswerComparison{AnswerA: aID, AnswerB: bID, Diff: scoring.Compare(a.AnswerText, b.AnswerText)}, nil
}

func (s *CrowdsourcingService) AnswerStats(questionID uint) (*repository.AnswerStats, error) {
	if _, err := s.QuestionRepo.FindByID(questionID); err != nil {
		return nil, util.WrapNotFound(err, "question", questionID)
	}
	return s.Repo.QuestionStats(questionID)
}
