package controller

import (
	"llm_eval_backend/internal/repository"
	"llm_eval_backend/internal/service"
	"llm_eval_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// QuestionController 标准问题管理
type QuestionController struct {
	Service *service.StandardQuestionService
}

func NewQuestionController(s *service.StandardQuestionService) *QuestionController {
	return &QuestionController{Service: s}
}

// CreateQuestion godoc
// @Summary 创建标准问题
// @Tags 标准问题
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body service.QuestionRequest true "问题内容"
// @Success 201 {object} util.Response{data=model.StandardQuestion}
// @Failure 400 {object} util.Response "请求参数错误"
// @Router /api/questions [post]
func (c *QuestionController) CreateQuestion(ctx *gin.Context) {
	var req service.QuestionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	q, err := c.Service.Create(req, util.ActorID(ctx))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Created(ctx, q)
}

// ListQuestions godoc
// @Summary 标准问题列表
// @Tags 标准问题
// @Produce json
// @Security BearerAuth
// @Param category query string false "分类"
// @Param questionType query string false "题型"
// @Param difficulty query string false "难度"
// @Param status query string false "状态"
// @Param keyword query string false "关键词"
// @Param latestOnly query bool false "只看最新版本"
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/questions [get]
func (c *QuestionController) ListQuestions(ctx *gin.Context) {
	page, limit := pageParams(ctx)
	filter := repository.QuestionFilter{
		Category:     ctx.Query("category"),
		QuestionType: ctx.Query("questionType"),
		Difficulty:   ctx.Query("difficulty"),
		Status:       ctx.Query("status"),
		Keyword:      ctx.Query("keyword"),
		LatestOnly:   ctx.Query("latestOnly") == "true",
	}
	list, total, err := c.Service.List(filter, page, limit)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Page(ctx, list, total, page, limit)
}

// GetQuestion godoc
// @Summary 标准问题详情
// @Tags 标准问题
// @Produce json
// @Security BearerAuth
// @Param id path int true "问题ID"
// @Success 200 {object} util.Response{data=model.StandardQuestion}
// @Failure 404 {object} util.Response "问题不存在"
// @Router /api/questions/{id} [get]
func (c *QuestionController) GetQuestion(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	q, err := c.Service.Get(id)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, q)
}

// UpdateQuestion godoc
// @Summary 修改标准问题
// @Tags 标准问题
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "问题ID"
// @Param request body service.QuestionRequest true "修改内容"
// @Success 200 {object} util.Response{data=model.StandardQuestion}
// @Router /api/questions/{id} [put]
func (c *QuestionController) UpdateQuestion(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req service.QuestionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	q, err := c.Service.Update(id, req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, q)
}

// DeleteQuestion godoc
// @Summary 删除标准问题
// @Tags 标准问题
// @Security BearerAuth
// @Param id path int true "问题ID"
// @Success 200 {object} util.Response
// @Router /api/questions/{id} [delete]
func (c *QuestionController) DeleteQuestion(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	if err := c.Service.Delete(id); err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// CreateVersion godoc
// @Summary 派生问题新版本
// @Tags 标准问题
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "问题ID"
// @Param request body service.QuestionRequest true "新版本的修改"
// @Success 201 {object} util.Response{data=model.StandardQuestion}
// @Router /api/questions/{id}/versions [post]
func (c *QuestionController) CreateVersion(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req service.QuestionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	q, err := c.Service.CreateVersion(id, req, util.ActorID(ctx))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Created(ctx, q)
}

// ListVersions godoc
// @Summary 问题版本链
// @Tags 标准问题
// @Produce json
// @Security BearerAuth
// @Param id path int true "问题ID"
// @Success 200 {object} util.Response{data=[]model.StandardQuestion}
// @Router /api/questions/{id}/versions [get]
func (c *QuestionController) ListVersions(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	versions, err := c.Service.ListVersions(id)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, versions)
}
