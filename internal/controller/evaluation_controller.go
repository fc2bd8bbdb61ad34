package controller

import (
	"llm_eval_backend/internal/repository"
	"llm_eval_backend/internal/service"
	"llm_eval_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// EvaluationController 评测结果、人工评测与统计
type EvaluationController struct {
	Service *service.EvaluationService
}

func NewEvaluationController(s *service.EvaluationService) *EvaluationController {
	return &EvaluationController{Service: s}
}

// ListEvaluations godoc
// @Summary 评测结果列表
// @Tags 评测结果
// @Produce json
// @Security BearerAuth
// @Param batchId query int false "批次ID"
// @Param questionId query int false "问题ID"
// @Param status query string false "状态"
// @Param method query string false "评测方式"
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/evaluations [get]
func (c *EvaluationController) ListEvaluations(ctx *gin.Context) {
	page, limit := pageParams(ctx)
	filter := repository.EvaluationFilter{
		BatchID:    queryUint(ctx, "batchId"),
		QuestionID: queryUint(ctx, "questionId"),
		Status:     ctx.Query("status"),
		Method:     ctx.Query("method"),
	}
	list, total, err := c.Service.List(filter, page, limit)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Page(ctx, list, total, page, limit)
}

// GetEvaluation godoc
// @Summary 评测结果详情
// @Description 附带裁判模型给出的完整理由
// @Tags 评测结果
// @Produce json
// @Security BearerAuth
// @Param id path int true "评测ID"
// @Success 200 {object} util.Response{data=service.EvaluationDetail}
// @Router /api/evaluations/{id} [get]
func (c *EvaluationController) GetEvaluation(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	detail, err := c.Service.Get(ctx.Request.Context(), id)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, detail)
}

// DeleteEvaluation godoc
// @Summary 删除评测结果
// @Tags 评测结果
// @Security BearerAuth
// @Param id path int true "评测ID"
// @Success 200 {object} util.Response
// @Router /api/evaluations/{id} [delete]
func (c *EvaluationController) DeleteEvaluation(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	if err := c.Service.Delete(ctx.Request.Context(), id); err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// SubmitManual godoc
// @Summary 提交人工评测
// @Description 逐条判定得分点，按评分规则计分并覆盖该单元已有结果
// @Tags 评测结果
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body service.ManualEvaluationRequest true "人工判定"
// @Success 200 {object} util.Response{data=model.Evaluation}
// @Router /api/evaluations/manual [post]
func (c *EvaluationController) SubmitManual(ctx *gin.Context) {
	var req service.ManualEvaluationRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	eval, err := c.Service.SubmitManualEvaluation(req, util.ActorID(ctx))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, eval)
}

// BatchStatistics godoc
// @Summary 批次统计
// @Tags 评测结果
// @Produce json
// @Security BearerAuth
// @Param id path int true "批次ID"
// @Param threshold query number false "通过阈值，缺省用批次阈值"
// @Success 200 {object} util.Response{data=service.BatchStatistics}
// @Router /api/evaluations/batch/{id}/statistics [get]
func (c *EvaluationController) BatchStatistics(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	threshold, ok := queryFloat(ctx, "threshold")
	if !ok {
		return
	}
	stats, err := c.Service.BatchStatistics(ctx.Request.Context(), id, threshold)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, stats)
}

// ModelComparison godoc
// @Summary 模型对比
// @Tags 评测结果
// @Produce json
// @Security BearerAuth
// @Param modelIds query string false "逗号分隔的模型ID"
// @Param datasetVersionId query int false "数据集ID"
// @Success 200 {object} util.Response{data=[]repository.ModelComparisonRow}
// @Router /api/evaluations/comparison [get]
func (c *EvaluationController) ModelComparison(ctx *gin.Context) {
	rows, err := c.Service.ModelComparison(queryUint(ctx, "datasetVersionId"), util.ParseUintList(ctx.Query("modelIds")))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, rows)
}
