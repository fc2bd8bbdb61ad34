package util

import (
	"strconv"
	"strings"
)

// MustParseUint 将字符串转换为无符号整数，解析失败时返回 0
func MustParseUint(s string) uint {
	id, _ := strconv.ParseUint(s, 10, 32)
	return uint(id)
}

// ParseUintList 解析逗号分隔的ID列表，忽略非法项
func ParseUintList(s string) []uint {
	var ids []uint
	for _, part := range strings.Split(s, ",") {
		if id := MustParseUint(strings.TrimSpace(part)); id > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// NormalizePage 规范化分页参数
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return page, limit
}
