package controller

import (
	"llm_eval_backend/internal/util"
	"strconv"

	"github.com/gin-gonic/gin"
)

// pathID 解析路径中的正整数ID，失败时直接写回 400
func pathID(ctx *gin.Context, name string) (uint, bool) {
	id := util.MustParseUint(ctx.Param(name))
	if id == 0 {
		util.BadRequest(ctx, "invalid "+name)
		return 0, false
	}
	return id, true
}

func queryUint(ctx *gin.Context, name string) uint {
	return util.MustParseUint(ctx.Query(name))
}

// queryFloat 参数缺省时返回 nil
func queryFloat(ctx *gin.Context, name string) (*float64, bool) {
	raw := ctx.Query(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		util.BadRequest(ctx, "invalid "+name)
		return nil, false
	}
	return &v, true
}

func queryBool(ctx *gin.Context, name string) *bool {
	raw := ctx.Query(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &v
}

func pageParams(ctx *gin.Context) (int, int) {
	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))
	return util.NormalizePage(page, limit)
}
