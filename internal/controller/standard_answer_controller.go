package controller

import (
	"llm_eval_backend/internal/service"
	"llm_eval_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// StandardAnswerController 标准答案与得分点
type StandardAnswerController struct {
	Service *service.RubricService
}

func NewStandardAnswerController(s *service.RubricService) *StandardAnswerController {
	return &StandardAnswerController{Service: s}
}

// SetFinalRequest 设置最终答案
// swagger:model SetFinalRequest
type SetFinalRequest struct {
	Reason string `json:"reason"`
}

// CreateAnswer godoc
// @Summary 创建标准答案
// @Description 版本从 1 开始，可同时提交得分点
// @Tags 标准答案
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body service.CreateStandardAnswerRequest true "标准答案"
// @Success 201 {object} util.Response{data=model.StandardAnswer}
// @Failure 400 {object} util.Response "请求参数错误"
// @Failure 404 {object} util.Response "问题不存在"
// @Router /api/answers [post]
func (c *StandardAnswerController) CreateAnswer(ctx *gin.Context) {
	var req service.CreateStandardAnswerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	answer, err := c.Service.CreateStandardAnswer(req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Created(ctx, answer)
}

// ListAnswers godoc
// @Summary 标准答案列表
// @Tags 标准答案
// @Produce json
// @Security BearerAuth
// @Param questionId query int false "问题ID"
// @Param sourceType query string false "来源"
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/answers [get]
func (c *StandardAnswerController) ListAnswers(ctx *gin.Context) {
	page, limit := pageParams(ctx)
	list, total, err := c.Service.ListStandardAnswers(queryUint(ctx, "questionId"), ctx.Query("sourceType"), page, limit)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Page(ctx, list, total, page, limit)
}

// GetAnswer godoc
// @Summary 标准答案详情
// @Tags 标准答案
// @Produce json
// @Security BearerAuth
// @Param id path int true "答案ID"
// @Success 200 {object} util.Response{data=model.StandardAnswer}
// @Router /api/answers/{id} [get]
func (c *StandardAnswerController) GetAnswer(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	answer, err := c.Service.GetStandardAnswer(id)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, answer)
}

// ReviseAnswer godoc
// @Summary 修订标准答案
// @Description 版本号加一；传 keyPoints 时整体替换得分点
// @Tags 标准答案
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "答案ID"
// @Param request body service.ReviseStandardAnswerRequest true "修订内容"
// @Success 200 {object} util.Response{data=model.StandardAnswer}
// @Router /api/answers/{id} [put]
func (c *StandardAnswerController) ReviseAnswer(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req service.ReviseStandardAnswerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	answer, err := c.Service.ReviseStandardAnswer(id, req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, answer)
}

// DeleteAnswer godoc
// @Summary 删除标准答案
// @Tags 标准答案
// @Security BearerAuth
// @Param id path int true "答案ID"
// @Success 200 {object} util.Response
// @Router /api/answers/{id} [delete]
func (c *StandardAnswerController) DeleteAnswer(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	if err := c.Service.DeleteStandardAnswer(id); err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// SetFinal godoc
// @Summary 设为最终答案
// @Description 同一问题同时只有一个最终答案
// @Tags 标准答案
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "答案ID"
// @Param request body SetFinalRequest false "选择理由"
// @Success 200 {object} util.Response{data=model.StandardAnswer}
// @Failure 409 {object} util.Response "答案已删除"
// @Router /api/answers/{id}/set-final [post]
func (c *StandardAnswerController) SetFinal(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req SetFinalRequest
	_ = ctx.ShouldBindJSON(&req)

	actor := util.ActorID(ctx)
	var actorID *uint
	if actor > 0 {
		actorID = &actor
	}
	answer, err := c.Service.SetFinal(id, actorID, req.Reason)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, answer)
}

// ListByQuestion godoc
// @Summary 问题下的全部标准答案
// @Tags 标准答案
// @Produce json
// @Security BearerAuth
// @Param questionId path int true "问题ID"
// @Success 200 {object} util.Response{data=[]model.StandardAnswer}
// @Router /api/answers/question/{questionId} [get]
func (c *StandardAnswerController) ListByQuestion(ctx *gin.Context) {
	questionID, ok := pathID(ctx, "questionId")
	if !ok {
		return
	}
	answers, err := c.Service.ListByQuestion(questionID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, answers)
}

// GetFinal godoc
// @Summary 问题的最终答案
// @Tags 标准答案
// @Produce json
// @Security BearerAuth
// @Param questionId path int true "问题ID"
// @Success 200 {object} util.Response{data=model.StandardAnswer}
// @Failure 404 {object} util.Response "没有最终答案"
// @Router /api/answers/question/{questionId}/final [get]
func (c *StandardAnswerController) GetFinal(ctx *gin.Context) {
	questionID, ok := pathID(ctx, "questionId")
	if !ok {
		return
	}
	answer, err := c.Service.GetFinalAnswer(questionID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, answer)
}

// ListKeyPoints godoc
// @Summary 得分点列表
// @Tags 标准答案
// @Produce json
// @Security BearerAuth
// @Param id path int true "答案ID"
// @Success 200 {object} util.Response{data=[]model.AnswerKeyPoint}
// @Router /api/answers/{id}/key-points [get]
func (c *StandardAnswerController) ListKeyPoints(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	kps, err := c.Service.ListKeyPoints(id)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, kps)
}

// AddKeyPoint godoc
// @Summary 新增得分点
// @Tags 标准答案
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "答案ID"
// @Param request body service.KeyPointInput true "得分点"
// @Success 201 {object} util.Response{data=model.AnswerKeyPoint}
// @Failure 400 {object} util.Response "序号重复或权重非法"
// @Router /api/answers/{id}/key-points [post]
func (c *StandardAnswerController) AddKeyPoint(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req service.KeyPointInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	kp, err := c.Service.AddKeyPoint(id, req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Created(ctx, kp)
}

// UpdateKeyPoint godoc
// @Summary 修改得分点
// @Tags 标准答案
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "答案ID"
// @Param kpId path int true "得分点ID"
// @Param request body service.KeyPointInput true "得分点"
// @Success 200 {object} util.Response{data=model.AnswerKeyPoint}
// @Router /api/answers/{id}/key-points/{kpId} [put]
func (c *StandardAnswerController) UpdateKeyPoint(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	kpID, ok := pathID(ctx, "kpId")
	if !ok {
		return
	}
	var req service.KeyPointInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	kp, err := c.Service.UpdateKeyPoint(id, kpID, req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, kp)
}

// DeleteKeyPoint godoc
// @Summary 删除得分点
// @Tags 标准答案
// @Security BearerAuth
// @Param id path int true "答案ID"
// @Param kpId path int true "得分点ID"
// @Success 200 {object} util.Response
// @Router /api/answers/{id}/key-points/{kpId} [delete]
func (c *StandardAnswerController) DeleteKeyPoint(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	kpID, ok := pathID(ctx, "kpId")
	if !ok {
		return
	}
	if err := c.Service.DeleteKeyPoint(id, kpID); err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}
