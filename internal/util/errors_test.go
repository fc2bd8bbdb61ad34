package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestAppErrorMatchesKind(t *testing.T) {
	err := fmt.Errorf("create batch: %w", InvalidState("dataset version %d is not published", 3))

	assert.ErrorIs(t, err, ErrInvalidState)
	assert.NotErrorIs(t, err, ErrValidation)
	assert.Equal(t, KindInvalidState, KindOf(err))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "dataset version 3 is not published")

	cause := errors.New("connection reset")
	transient := Transient(cause, "judge request failed")
	assert.True(t, IsTransient(transient))
	assert.ErrorIs(t, transient, cause)
	assert.False(t, IsTransient(cause))
}

func TestWrapNotFound(t *testing.T) {
	err := WrapNotFound(gorm.ErrRecordNotFound, "model", 9)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "model 9 not found")

	other := errors.New("database is locked")
	assert.Equal(t, other, WrapNotFound(other, "model", 9))
}

func TestHandleErrorStatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		err    error
		status int
		kind   ErrorKind
	}{
		{"validation", Validation("name is required"), http.StatusBadRequest, KindValidation},
		{"not found", NotFoundf("batch 1 not found"), http.StatusNotFound, KindNotFound},
		{"invalid state", InvalidState("batch 1 is completed"), http.StatusConflict, KindInvalidState},
		{"conflict", Conflict("dataset is referenced"), http.StatusConflict, KindConflict},
		{"transient", Transient(nil, "queue unavailable"), http.StatusServiceUnavailable, KindTransient},
		{"permission", ErrPermissionDenied, http.StatusForbidden, ""},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			HandleError(c, tt.err)

			assert.Equal(t, tt.status, w.Code)
			var resp Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.status, resp.Code)
			assert.Equal(t, tt.kind, resp.Kind)
		})
	}
}

func TestParseHelpers(t *testing.T) {
	assert.Equal(t, uint(42), MustParseUint("42"))
	assert.Zero(t, MustParseUint("abc"))
	assert.Equal(t, []uint{1, 3}, ParseUintList("1, x,3,0"))

	page, limit := NormalizePage(0, 1000)
	assert.Equal(t, DefaultPage, page)
	assert.Equal(t, MaxLimit, limit)
}
