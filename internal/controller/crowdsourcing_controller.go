package controller

import (
	"llm_eval_backend/internal/model"
	"llm_eval_backend/internal/repository"
	"llm_eval_backend/internal/service"
	"llm_eval_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// CrowdsourcingController 众包任务与众包答案
type CrowdsourcingController struct {
	Service *service.CrowdsourcingService
}

func NewCrowdsourcingController(s *service.CrowdsourcingService) *CrowdsourcingController {
	return &CrowdsourcingController{Service: s}
}

// TaskStatusRequest 修改任务状态
type TaskStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateAnswerTextRequest 修改待审核答案
type UpdateAnswerTextRequest struct {
	AnswerText string `json:"answerText" binding:"required"`
}

// BatchReviewRequest 批量审核
type BatchReviewRequest struct {
	Items []service.BatchReviewItem `json:"items" binding:"required,min=1,dive"`
}

// SelectAnswerRequest 提升为标准答案
type SelectAnswerRequest struct {
	Reason string `json:"reason"`
}

// RateAnswerRequest 质量评分
type RateAnswerRequest struct {
	Score int `json:"score" binding:"required,min=1,max=5"`
}

// CompareAnswersRequest 答案对比
type CompareAnswersRequest struct {
	AnswerA uint `json:"answerA" binding:"required"`
	AnswerB uint `json:"answerB" binding:"required"`
}

// CreateTask godoc
// @Summary 创建众包任务
// @Tags 众包
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body service.CreateTaskRequest true "任务信息"
// @Success 201 {object} util.Response{data=model.CrowdsourcingTask}
// @Router /api/crowdsourcing/tasks [post]
func (c *CrowdsourcingController) CreateTask(ctx *gin.Context) {
	var req service.CreateTaskRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	task, err := c.Service.CreateTask(req, util.ActorID(ctx))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Created(ctx, task)
}

// ListTasks godoc
// @Summary 众包任务列表
// @Tags 众包
// @Produce json
// @Security BearerAuth
// @Param status query string false "状态"
// @Param taskType query string false "任务类型"
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/crowdsourcing/tasks [get]
func (c *CrowdsourcingController) ListTasks(ctx *gin.Context) {
	page, limit := pageParams(ctx)
	list, total, err := c.Service.ListTasks(ctx.Query("status"), ctx.Query("taskType"), page, limit)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Page(ctx, list, total, page, limit)
}

// GetTask godoc
// @Summary 众包任务详情
// @Tags 众包
// @Produce json
// @Security BearerAuth
// @Param id path int true "任务ID"
// @Success 200 {object} util.Response{data=model.CrowdsourcingTask}
// @Router /api/crowdsourcing/tasks/{id} [get]
func (c *CrowdsourcingController) GetTask(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	task, err := c.Service.GetTask(id)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, task)
}

// UpdateTask godoc
// @Summary 修改众包任务
// @Description 草稿可改全部字段；已发布只能改标题、描述和调低最少答案数
// @Tags 众包
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "任务ID"
// @Param request body service.UpdateTaskRequest true "修改内容"
// @Success 200 {object} util.Response{data=model.CrowdsourcingTask}
// @Failure 409 {object} util.Response "任务状态不允许修改"
// @Router /api/crowdsourcing/tasks/{id} [put]
func (c *CrowdsourcingController) UpdateTask(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req service.UpdateTaskRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	task, err := c.Service.UpdateTask(id, req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, task)
}

// DeleteTask godoc
// @Summary 删除众包任务
// @Tags 众包
// @Security BearerAuth
// @Param id path int true "任务ID"
// @Success 200 {object} util.Response
// @Router /api/crowdsourcing/tasks/{id} [delete]
func (c *CrowdsourcingController) DeleteTask(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	if err := c.Service.DeleteTask(id); err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// PublishTask godoc
// @Summary 发布众包任务
// @Tags 众包
// @Produce json
// @Security BearerAuth
// @Param id path int true "任务ID"
// @Success 200 {object} util.Response{data=model.CrowdsourcingTask}
// @Router /api/crowdsourcing/tasks/{id}/publish [post]
func (c *CrowdsourcingController) PublishTask(ctx *gin.Context) {
	c.taskTransition(ctx, c.Service.PublishTask)
}

// CompleteTask godoc
// @Summary 完成众包任务
// @Tags 众包
// @Produce json
// @Security BearerAuth
// @Param id path int true "任务ID"
// @Success 200 {object} util.Response{data=model.CrowdsourcingTask}
// @Router /api/crowdsourcing/tasks/{id}/complete [post]
func (c *CrowdsourcingController) CompleteTask(ctx *gin.Context) {
	c.taskTransition(ctx, c.Service.CompleteTask)
}

// CloseTask godoc
// @Summary 关闭众包任务
// @Tags 众包
// @Produce json
// @Security BearerAuth
// @Param id path int true "任务ID"
// @Success 200 {object} util.Response{data=model.CrowdsourcingTask}
// @Router /api/crowdsourcing/tasks/{id}/close [post]
func (c *CrowdsourcingController) CloseTask(ctx *gin.Context) {
	c.taskTransition(ctx, c.Service.CloseTask)
}

func (c *CrowdsourcingController) taskTransition(ctx *gin.Context, fn func(uint) (*model.CrowdsourcingTask, error)) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	task, err := fn(id)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, task)
}

// UpdateTaskStatus godoc
// @Summary 修改任务状态
// @Description 兼容 DRAFT/PUBLISHED/IN_PROGRESS/COMPLETED/CANCELLED 等写法
// @Tags 众包
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "任务ID"
// @Param request body TaskStatusRequest true "目标状态"
// @Success 200 {object} util.Response{data=model.CrowdsourcingTask}
// @Router /api/crowdsourcing/tasks/{id}/status [put]
func (c *CrowdsourcingController) UpdateTaskStatus(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req TaskStatusRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	task, err := c.Service.UpdateTaskStatus(id, req.Status)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, task)
}

// ListTaskQuestions godoc
// @Summary 任务包含的问题
// @Tags 众包
// @Produce json
// @Security BearerAuth
// @Param id path int true "任务ID"
// @Success 200 {object} util.Response{data=[]model.StandardQuestion}
// @Router /api/crowdsourcing/tasks/{id}/questions [get]
func (c *CrowdsourcingController) ListTaskQuestions(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	questions, err := c.Service.ListTaskQuestions(id)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, questions)
}

// ListTaskAnswers godoc
// @Summary 任务收到的答案
// @Tags 众包
// @Produce json
// @Security BearerAuth
// @Param id path int true "任务ID"
// @Param reviewStatus query string false "审核状态"
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/crowdsourcing/tasks/{id}/answers [get]
func (c *CrowdsourcingController) ListTaskAnswers(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	c.listAnswers(ctx, repository.AnswerFilter{TaskID: id, ReviewStatus: ctx.Query("reviewStatus")})
}

// ListQuestionAnswers godoc
// @Summary 问题收到的众包答案
// @Tags 众包
// @Produce json
// @Security BearerAuth
// @Param questionId path int true "问题ID"
// @Param reviewStatus query string false "审核状态"
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/crowdsourcing/questions/{questionId}/answers [get]
func (c *CrowdsourcingController) ListQuestionAnswers(ctx *gin.Context) {
	questionID, ok := pathID(ctx, "questionId")
	if !ok {
		return
	}
	c.listAnswers(ctx, repository.AnswerFilter{QuestionID: questionID, ReviewStatus: ctx.Query("reviewStatus")})
}

func (c *CrowdsourcingController) listAnswers(ctx *gin.Context, filter repository.AnswerFilter) {
	page, limit := pageParams(ctx)
	list, total, err := c.Service.ListAnswers(filter, page, limit)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Page(ctx, list, total, page, limit)
}

// QuestionAnswerStats godoc
// @Summary 问题众包答案统计
// @Tags 众包
// @Produce json
// @Security BearerAuth
// @Param questionId path int true "问题ID"
// @Success 200 {object} util.Response{data=repository.AnswerStats}
// @Router /api/crowdsourcing/questions/{questionId}/answers/stats [get]
func (c *CrowdsourcingController) QuestionAnswerStats(ctx *gin.Context) {
	questionID, ok := pathID(ctx, "questionId")
	if !ok {
		return
	}
	stats, err := c.Service.AnswerStats(questionID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, stats)
}

// SubmitAnswer godoc
// @Summary 提交众包答案
// @Description 任务必须处于进行中，问题必须属于该任务
// @Tags 众包
// @Accept json
// @Produce json
// @Param request body service.SubmitAnswerRequest true "答案"
// @Success 201 {object} util.Response{data=model.CrowdsourcingAnswer}
// @Failure 409 {object} util.Response "任务未开放"
// @Router /api/crowdsourcing/answers [post]
func (c *CrowdsourcingController) SubmitAnswer(ctx *gin.Context) {
	var req service.SubmitAnswerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	var userID *uint
	if actor := util.ActorID(ctx); actor > 0 {
		userID = &actor
	}
	answer, err := c.Service.SubmitAnswer(req, userID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Created(ctx, answer)
}

// GetAnswer godoc
// @Summary 众包答案详情
// @Tags 众包
// @Produce json
// @Security BearerAuth
// @Param id path int true "答案ID"
// @Success 200 {object} util.Response{data=model.CrowdsourcingAnswer}
// @Router /api/crowdsourcing/answers/{id} [get]
func (c *CrowdsourcingController) GetAnswer(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	answer, err := c.Service.GetAnswer(id)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, answer)
}

// UpdateAnswer godoc
// @Summary 修改待审核答案
// @Tags 众包
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "答案ID"
// @Param request body UpdateAnswerTextRequest true "答案内容"
// @Success 200 {object} util.Response{data=model.CrowdsourcingAnswer}
// @Router /api/crowdsourcing/answers/{id} [put]
func (c *CrowdsourcingController) UpdateAnswer(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req UpdateAnswerTextRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	answer, err := c.Service.UpdateAnswer(id, req.AnswerText)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, answer)
}

// DeleteAnswer godoc
// @Summary 删除待审核答案
// @Tags 众包
// @Security BearerAuth
// @Param id path int true "答案ID"
// @Success 200 {object} util.Response
// @Router /api/crowdsourcing/answers/{id} [delete]
func (c *CrowdsourcingController) DeleteAnswer(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	if err := c.Service.DeleteAnswer(id); err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// ReviewAnswer godoc
// @Summary 审核众包答案
// @Tags 众包
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "答案ID"
// @Param request body service.ReviewRequest true "审核结果"
// @Success 200 {object} util.Response{data=model.CrowdsourcingAnswer}
// @Router /api/crowdsourcing/answers/{id}/review [post]
func (c *CrowdsourcingController) ReviewAnswer(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req service.ReviewRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	answer, err := c.Service.ReviewAnswer(id, req, util.ActorID(ctx))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, answer)
}

// BatchReview godoc
// @Summary 批量审核
// @Description 逐条返回结果，单条失败不影响其它
// @Tags 众包
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body BatchReviewRequest true "审核列表"
// @Success 200 {object} util.Response{data=[]service.BatchReviewResult}
// @Router /api/crowdsourcing/answers/batch-review [post]
func (c *CrowdsourcingController) BatchReview(ctx *gin.Context) {
	var req BatchReviewRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	util.Success(ctx, c.Service.BatchReviewAnswers(req.Items, util.ActorID(ctx)))
}

// SelectAnswer godoc
// @Summary 提升为标准答案
// @Description 只能选择已通过审核的答案；重复选择返回同一个标准答案
// @Tags 众包
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "答案ID"
// @Param request body SelectAnswerRequest false "选择理由"
// @Success 200 {object} util.Response{data=model.StandardAnswer}
// @Router /api/crowdsourcing/answers/{id}/select [post]
func (c *CrowdsourcingController) SelectAnswer(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req SelectAnswerRequest
	_ = ctx.ShouldBindJSON(&req)
	standard, err := c.Service.SelectAsStandardAnswer(id, util.ActorID(ctx), req.Reason)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, standard)
}

// RateAnswer godoc
// @Summary 答案质量评分
// @Tags 众包
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "答案ID"
// @Param request body RateAnswerRequest true "评分(1-5)"
// @Success 200 {object} util.Response{data=model.CrowdsourcingAnswer}
// @Router /api/crowdsourcing/answers/{id}/rate [post]
func (c *CrowdsourcingController) RateAnswer(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req RateAnswerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	answer, err := c.Service.RateAnswer(id, req.Score)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, answer)
}

// CompareAnswers godoc
// @Summary 两个众包答案对比
// @Tags 众包
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CompareAnswersRequest true "答案ID"
// @Success 200 {object} util.Response{data=service.AnswerComparison}
// @Router /api/crowdsourcing/answers/compare [post]
func (c *CrowdsourcingController) CompareAnswers(ctx *gin.Context) {
	var req CompareAnswersRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	cmp, err := c.Service.CompareAnswers(req.AnswerA, req.AnswerB)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, cmp)
}
