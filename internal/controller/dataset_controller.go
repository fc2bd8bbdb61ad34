package controller

import (
	"llm_eval_backend/internal/service"
	"llm_eval_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// DatasetController 数据集版本
type DatasetController struct {
	Service *service.DatasetService
}

func NewDatasetController(s *service.DatasetService) *DatasetController {
	return &DatasetController{Service: s}
}

// AddDatasetQuestionsRequest 追加问题
type AddDatasetQuestionsRequest struct {
	QuestionIDs []uint `json:"questionIds" binding:"required,min=1"`
}

// CreateDataset godoc
// @Summary 创建数据集版本
// @Description 可基于已有版本复制问题列表
// @Tags 数据集
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body service.CreateDatasetRequest true "数据集"
// @Success 201 {object} util.Response{data=model.DatasetVersion}
// @Router /api/datasets [post]
func (c *DatasetController) CreateDataset(ctx *gin.Context) {
	var req service.CreateDatasetRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	ds, err := c.Service.Create(req, util.ActorID(ctx))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Created(ctx, ds)
}

// ListDatasets godoc
// @Summary 数据集版本列表
// @Tags 数据集
// @Produce json
// @Security BearerAuth
// @Param published query bool false "是否已发布"
// @Param keyword query string false "名称关键词"
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/datasets [get]
func (c *DatasetController) ListDatasets(ctx *gin.Context) {
	page, limit := pageParams(ctx)
	list, total, err := c.Service.List(queryBool(ctx, "published"), ctx.Query("keyword"), page, limit)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Page(ctx, list, total, page, limit)
}

// GetDataset godoc
// @Summary 数据集版本详情
// @Tags 数据集
// @Produce json
// @Security BearerAuth
// @Param id path int true "数据集ID"
// @Success 200 {object} util.Response{data=model.DatasetVersion}
// @Router /api/datasets/{id} [get]
func (c *DatasetController) GetDataset(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	ds, err := c.Service.Get(id)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, ds)
}

// UpdateDataset godoc
// @Summary 修改数据集名称或描述
// @Tags 数据集
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "数据集ID"
// @Param request body service.UpdateDatasetRequest true "修改内容"
// @Success 200 {object} util.Response{data=model.DatasetVersion}
// @Router /api/datasets/{id} [put]
func (c *DatasetController) UpdateDataset(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req service.UpdateDatasetRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	ds, err := c.Service.Update(id, req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, ds)
}

// DeleteDataset godoc
// @Summary 删除数据集版本
// @Tags 数据集
// @Security BearerAuth
// @Param id path int true "数据集ID"
// @Success 200 {object} util.Response
// @Failure 409 {object} util.Response "已发布或被批次引用"
// @Router /api/datasets/{id} [delete]
func (c *DatasetController) DeleteDataset(ctx *gin.Context) {
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

// PublishDataset godoc
// @Summary 发布数据集版本
// @Tags 数据集
// @Produce json
// @Security BearerAuth
// @Param id path int true "数据集ID"
// @Success 200 {object} util.Response{data=model.DatasetVersion}
// @Failure 400 {object} util.Response "数据集为空"
// @Router /api/datasets/{id}/publish [post]
func (c *DatasetController) PublishDataset(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	ds, err := c.Service.Publish(id)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, ds)
}

// UnpublishDataset godoc
// @Summary 撤销发布
// @Tags 数据集
// @Produce json
// @Security BearerAuth
// @Param id path int true "数据集ID"
// @Success 200 {object} util.Response{data=model.DatasetVersion}
// @Failure 409 {object} util.Response "被批次引用"
// @Router /api/datasets/{id}/unpublish [post]
func (c *DatasetController) UnpublishDataset(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	ds, err := c.Service.Unpublish(id)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, ds)
}

// AddQuestions godoc
// @Summary 向数据集追加问题
// @Tags 数据集
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "数据集ID"
// @Param request body AddDatasetQuestionsRequest true "问题ID列表"
// @Success 200 {object} util.Response{data=model.DatasetVersion}
// @Router /api/datasets/{id}/questions [post]
func (c *DatasetController) AddQuestions(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req AddDatasetQuestionsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	ds, err := c.Service.AddQuestions(id, req.QuestionIDs)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, ds)
}

// RemoveQuestion godoc
// @Summary 从数据集移除问题
// @Tags 数据集
// @Produce json
// @Security BearerAuth
// @Param id path int true "数据集ID"
// @Param questionId path int true "问题ID"
// @Success 200 {object} util.Response{data=model.DatasetVersion}
// @Router /api/datasets/{id}/questions/{questionId} [delete]
func (c *DatasetController) RemoveQuestion(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	questionID, ok := pathID(ctx, "questionId")
	if !ok {
		return
	}
	ds, err := c.Service.RemoveQuestion(id, questionID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, ds)
}

// ListQuestions godoc
// @Summary 数据集包含的问题
// @Tags 数据集
// @Produce json
// @Security BearerAuth
// @Param id path int true "数据集ID"
// @Success 200 {object} util.Response{data=[]model.StandardQuestion}
// @Router /api/datasets/{id}/questions [get]
func (c *DatasetController) ListQuestions(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	questions, err := c.Service.Questions(id)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, questions)
}
