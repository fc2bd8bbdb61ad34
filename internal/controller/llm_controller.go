package controller

import (
	"llm_eval_backend/internal/repository"
	"llm_eval_backend/internal/service"
	"llm_eval_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// LlmController 被测模型与模型回答
type LlmController struct {
	Service *service.LlmService
}

func NewLlmController(s *service.LlmService) *LlmController {
	return &LlmController{Service: s}
}

// BulkLlmAnswersRequest 批量导入模型回答
type BulkLlmAnswersRequest struct {
	Answers []service.LlmAnswerRequest `json:"answers" binding:"required,min=1,dive"`
}

// CreateModel godoc
// @Summary 注册模型
// @Tags 模型
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body service.CreateModelRequest true "模型信息"
// @Success 201 {object} util.Response{data=model.LlmModel}
// @Failure 400 {object} util.Response "同名同版本已存在"
// @Router /api/models [post]
func (c *LlmController) CreateModel(ctx *gin.Context) {
	var req service.CreateModelRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	m, err := c.Service.CreateModel(req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Created(ctx, m)
}

// ListModels godoc
// @Summary 模型列表
// @Tags 模型
// @Produce json
// @Security BearerAuth
// @Param provider query string false "提供方"
// @Success 200 {object} util.Response{data=[]model.LlmModel}
// @Router /api/models [get]
func (c *LlmController) ListModels(ctx *gin.Context) {
	models, err := c.Service.ListModels(ctx.Query("provider"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, models)
}

// GetModel godoc
// @Summary 模型详情
// @Tags 模型
// @Produce json
// @Security BearerAuth
// @Param id path int true "模型ID"
// @Success 200 {object} util.Response{data=model.LlmModel}
// @Router /api/models/{id} [get]
func (c *LlmController) GetModel(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	m, err := c.Service.GetModel(id)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, m)
}

// DeleteModel godoc
// @Summary 删除模型
// @Tags 模型
// @Security BearerAuth
// @Param id path int true "模型ID"
// @Success 200 {object} util.Response
// @Router /api/models/{id} [delete]
func (c *LlmController) DeleteModel(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	if err := c.Service.DeleteModel(id); err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// SubmitAnswer godoc
// @Summary 录入模型回答
// @Tags 模型
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body service.LlmAnswerRequest true "模型回答"
// @Success 201 {object} util.Response{data=model.LlmAnswer}
// @Router /api/llm-answers [post]
func (c *LlmController) SubmitAnswer(ctx *gin.Context) {
	var req service.LlmAnswerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	answer, err := c.Service.SubmitAnswer(req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Created(ctx, answer)
}

// SubmitAnswers godoc
// @Summary 批量录入模型回答
// @Description 任意一条校验失败则全部不写入
// @Tags 模型
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body BulkLlmAnswersRequest true "模型回答列表"
// @Success 201 {object} util.Response
// @Router /api/llm-answers/bulk [post]
func (c *LlmController) SubmitAnswers(ctx *gin.Context) {
	var req BulkLlmAnswersRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	n, err := c.Service.SubmitAnswers(req.Answers)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Created(ctx, gin.H{"created": n})
}

// ListAnswers godoc
// @Summary 模型回答列表
// @Tags 模型
// @Produce json
// @Security BearerAuth
// @Param modelId query int false "模型ID"
// @Param questionId query int false "问题ID"
// @Param datasetVersionId query int false "数据集ID"
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/llm-answers [get]
func (c *LlmController) ListAnswers(ctx *gin.Context) {
	page, limit := pageParams(ctx)
	filter := repository.LlmAnswerFilter{
		ModelID:          queryUint(ctx, "modelId"),
		QuestionID:       queryUint(ctx, "questionId"),
		DatasetVersionID: queryUint(ctx, "datasetVersionId"),
	}
	list, total, err := c.Service.ListAnswers(filter, page, limit)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Page(ctx, list, total, page, limit)
}

// GetAnswer godoc
// @Summary 模型回答详情
// @Tags 模型
// @Produce json
// @Security BearerAuth
// @Param id path int true "回答ID"
// @Success 200 {object} util.Response{data=model.LlmAnswer}
// @Router /api/llm-answers/{id} [get]
func (c *LlmController) GetAnswer(ctx *gin.Context) {
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

// DeleteAnswer godoc
// @Summary 删除模型回答
// @Tags 模型
// @Security BearerAuth
// @Param id path int true "回答ID"
// @Success 200 {object} util.Response
// @Router /api/llm-answers/{id} [delete]
func (c *LlmController) DeleteAnswer(ctx *gin.Context) {
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
