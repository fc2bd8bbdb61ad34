package controller

import (
	"llm_eval_backend/internal/model"
	"llm_eval_backend/internal/repository"
	"llm_eval_backend/internal/service"
	"llm_eval_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// EvaluationBatchController 评测批次
type EvaluationBatchController struct {
	Service  *service.EvaluationBatchService
	Progress *service.ProgressHub
}

func NewEvaluationBatchController(s *service.EvaluationBatchService, hub *service.ProgressHub) *EvaluationBatchController {
	return &EvaluationBatchController{Service: s, Progress: hub}
}

// StartBatchRequest 启动时可覆盖通过阈值
type StartBatchRequest struct {
	PassingThreshold *float64 `json:"passingThreshold"`
}

// CreateBatch godoc
// @Summary 创建评测批次
// @Description 数据集必须已发布；judge_model 方式需指定裁判模型
// @Tags 评测批次
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body service.CreateBatchRequest true "批次信息"
// @Success 201 {object} util.Response{data=model.EvaluationBatch}
// @Failure 409 {object} util.Response "数据集未发布"
// @Router /api/batches [post]
func (c *EvaluationBatchController) CreateBatch(ctx *gin.Context) {
	var req service.CreateBatchRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	batch, err := c.Service.CreateBatch(req, util.ActorID(ctx))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Created(ctx, batch)
}

// ListBatches godoc
// @Summary 评测批次列表
// @Tags 评测批次
// @Produce json
// @Security BearerAuth
// @Param modelId query int false "模型ID"
// @Param datasetVersionId query int false "数据集ID"
// @Param status query string false "状态"
// @Param method query string false "评测方式"
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/batches [get]
func (c *EvaluationBatchController) ListBatches(ctx *gin.Context) {
	page, limit := pageParams(ctx)
	filter := repository.BatchFilter{
		ModelID:          queryUint(ctx, "modelId"),
		DatasetVersionID: queryUint(ctx, "datasetVersionId"),
		Status:           ctx.Query("status"),
		Method:           ctx.Query("method"),
	}
	list, total, err := c.Service.ListBatches(filter, page, limit)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Page(ctx, list, total, page, limit)
}

// GetBatch godoc
// @Summary 评测批次详情
// @Tags 评测批次
// @Produce json
// @Security BearerAuth
// @Param id path int true "批次ID"
// @Success 200 {object} util.Response{data=model.EvaluationBatch}
// @Router /api/batches/{id} [get]
func (c *EvaluationBatchController) GetBatch(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	batch, err := c.Service.GetBatch(id)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, batch)
}

// UpdateBatch godoc
// @Summary 修改评测批次
// @Description 只有 pending 状态可以修改
// @Tags 评测批次
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "批次ID"
// @Param request body service.UpdateBatchRequest true "修改内容"
// @Success 200 {object} util.Response{data=model.EvaluationBatch}
// @Router /api/batches/{id} [put]
func (c *EvaluationBatchController) UpdateBatch(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req service.UpdateBatchRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	batch, err := c.Service.UpdateBatch(id, req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, batch)
}

// DeleteBatch godoc
// @Summary 删除评测批次
// @Tags 评测批次
// @Security BearerAuth
// @Param id path int true "批次ID"
// @Success 200 {object} util.Response
// @Router /api/batches/{id} [delete]
func (c *EvaluationBatchController) DeleteBatch(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	if err := c.Service.DeleteBatch(id); err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// StartBatch godoc
// @Summary 启动评测批次
// @Description 启用队列时投递到 worker，否则按配置同步或后台执行
// @Tags 评测批次
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "批次ID"
// @Param request body StartBatchRequest false "通过阈值"
// @Success 200 {object} util.Response{data=model.EvaluationBatch}
// @Success 202 {object} util.Response{data=model.EvaluationBatch}
// @Failure 409 {object} util.Response "批次不是 pending"
// @Router /api/batches/{id}/start [post]
func (c *EvaluationBatchController) StartBatch(ctx *gin.Context) {
	c.start(ctx, c.Service.DefaultRunMode())
}

// RunBatch godoc
// @Summary 同步执行评测批次
// @Description 请求返回时批次已结束
// @Tags 评测批次
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "批次ID"
// @Param request body StartBatchRequest false "通过阈值"
// @Success 200 {object} util.Response{data=model.EvaluationBatch}
// @Router /api/evaluations/batch/{id}/run [post]
func (c *EvaluationBatchController) RunBatch(ctx *gin.Context) {
	c.start(ctx, service.RunInline)
}

func (c *EvaluationBatchController) start(ctx *gin.Context, mode service.RunMode) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req StartBatchRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			util.BadRequest(ctx, err.Error())
			return
		}
	}
	threshold, ok := queryFloat(ctx, "threshold")
	if !ok {
		return
	}
	if req.PassingThreshold != nil {
		threshold = req.PassingThreshold
	}

	batch, err := c.Service.StartBatch(ctx.Request.Context(), id, threshold, mode)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	if batch.Status == model.BatchInProgress {
		util.Accepted(ctx, batch)
		return
	}
	util.Success(ctx, batch)
}

// CancelBatch godoc
// @Summary 取消评测批次
// @Tags 评测批次
// @Produce json
// @Security BearerAuth
// @Param id path int true "批次ID"
// @Success 200 {object} util.Response{data=model.EvaluationBatch}
// @Router /api/batches/{id}/cancel [post]
func (c *EvaluationBatchController) CancelBatch(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	batch, err := c.Service.CancelBatch(id)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, batch)
}

// ResetBatch godoc
// @Summary 重置批次以便重跑
// @Description completed 或 failed 的批次回到 pending，已有结果在重跑时覆盖
// @Tags 评测批次
// @Produce json
// @Security BearerAuth
// @Param id path int true "批次ID"
// @Success 200 {object} util.Response{data=model.EvaluationBatch}
// @Router /api/batches/{id}/reset [post]
func (c *EvaluationBatchController) ResetBatch(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	batch, err := c.Service.ResetBatch(id)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, batch)
}

// WatchProgress godoc
// @Summary 订阅批次进度
// @Description 建立 WebSocket 连接，先收到当前状态快照，随后推送每个评测单元的结果与批次结束事件
// @Tags 评测批次
// @Security BearerAuth
// @Param id path int true "批次ID"
// @Param token query string false "JWT Token，浏览器无法设置请求头时使用"
// @Success 101 {string} string "Switching Protocols"
// @Router /api/batches/{id}/ws [get]
func (c *EvaluationBatchController) WatchProgress(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	if c.Progress == nil {
		util.HandleError(ctx, util.InvalidState("progress streaming is disabled"))
		return
	}
	batch, err := c.Service.GetBatch(id)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	snapshot := service.ProgressEvent{BatchID: batch.ID, Status: batch.Status}
	if batch.Status == model.BatchCompleted || batch.Status == model.BatchFailed {
		metrics := batch.MetricsSummary.Data()
		snapshot.Metrics = &metrics
		snapshot.Reason = batch.FailureReason
	}
	c.Progress.ServeWs(ctx.Writer, ctx.Request, snapshot)
}
