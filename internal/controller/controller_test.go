package controller

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"llm_eval_backend/internal/config"
	"llm_eval_backend/internal/middleware"
	"llm_eval_backend/internal/model"
	"llm_eval_backend/internal/repository"
	"llm_eval_backend/internal/service"
	"llm_eval_backend/internal/util"
	"llm_eval_backend/pkg/database"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testJWTSecret = "controller-test-secret-0123456789abcdef"

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Kind    util.ErrorKind  `json:"kind"`
	Data    json.RawMessage `json:"data"`
}

type testAPI struct {
	router *gin.Engine
	tokens map[model.UserRole]string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(database.Models()...))

	questionRepo := repository.NewQuestionRepository(db)
	answerRepo := repository.NewStandardAnswerRepository(db)
	datasetRepo := repository.NewDatasetRepository(db)
	llmRepo := repository.NewLlmRepository(db)
	batchRepo := repository.NewEvaluationBatchRepository(db)
	evalRepo := repository.NewEvaluationRepository(db)

	batchSvc := service.NewEvaluationBatchService(batchRepo, evalRepo, datasetRepo, answerRepo, llmRepo, questionRepo, config.EvaluationConfig{})
	questions := NewQuestionController(service.NewStandardQuestionService(questionRepo))
	datasets := NewDatasetController(service.NewDatasetService(datasetRepo, questionRepo))
	models := NewLlmController(service.NewLlmService(llmRepo, questionRepo, datasetRepo))
	hub := service.NewProgressHub(nil)
	batchSvc.Progress = hub
	batches := NewEvaluationBatchController(batchSvc, hub)

	cfg := &config.Config{JWT: config.JWTConfig{Secret: testJWTSecret}}
	router := gin.New()
	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(cfg))
	curator := middleware.RoleMiddleware(model.Curator)

	api.GET("/questions/:id", questions.GetQuestion)
	api.POST("/questions", curator, questions.CreateQuestion)
	api.GET("/datasets/:id", datasets.GetDataset)
	api.POST("/datasets", curator, datasets.CreateDataset)
	api.POST("/datasets/:id/publish", curator, datasets.PublishDataset)
	api.POST("/models", curator, models.CreateModel)
	api.POST("/batches", curator, batches.CreateBatch)
	api.POST("/batches/:id/start", curator, batches.StartBatch)
	api.DELETE("/batches/:id", curator, batches.DeleteBatch)
	api.GET("/batches/:id/ws", batches.WatchProgress)

	tokens := map[model.UserRole]string{}
	for i, role := range []model.UserRole{model.Curator, model.Contributor} {
		token, err := util.GenerateJWT(uint(i+1), role, string(role)+"@example.com", testJWTSecret, time.Hour)
		require.NoError(t, err)
		tokens[role] = token
	}
	return &testAPI{router: router, tokens: tokens}
}

func (a *testAPI) do(t *testing.T, role model.UserRole, method, path string, body interface{}) (int, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token, ok := a.tokens[role]; ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func decodeID(t *testing.T, resp apiResponse) uint {
	t.Helper()
	var v struct {
		ID uint `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &v))
	require.NotZero(t, v.ID)
	return v.ID
}

func TestAuthAndRoles(t *testing.T) {
	api := newTestAPI(t)

	code, _ := api.do(t, "", http.MethodGet, "/api/questions/1", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = api.do(t, model.Contributor, http.MethodPost, "/api/questions", map[string]string{"content": "q"})
	assert.Equal(t, http.StatusForbidden, code)

	code, resp := api.do(t, model.Curator, http.MethodPost, "/api/questions", map[string]string{"content": "What is 2 + 2?"})
	assert.Equal(t, http.StatusCreated, code)
	id := decodeID(t, resp)

	code, _ = api.do(t, model.Contributor, http.MethodGet, fmt.Sprintf("/api/questions/%d", id), nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestErrorKindsMapToStatus(t *testing.T) {
	api := newTestAPI(t)

	code, resp := api.do(t, model.Curator, http.MethodGet, "/api/datasets/999", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, util.KindNotFound, resp.Kind)

	code, _ = api.do(t, model.Curator, http.MethodGet, "/api/datasets/abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = api.do(t, model.Curator, http.MethodPost, "/api/datasets", map[string]string{"description": "no name"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, util.KindValidation, resp.Kind)

	code, resp = api.do(t, model.Curator, http.MethodPost, "/api/datasets", map[string]string{"name": "empty"})
	require.Equal(t, http.StatusCreated, code)
	emptyID := decodeID(t, resp)

	code, resp = api.do(t, model.Curator, http.MethodPost, fmt.Sprintf("/api/datasets/%d/publish", emptyID), nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, util.KindValidation, resp.Kind)

	code, resp = api.do(t, model.Curator, http.MethodPost, "/api/models", map[string]string{"name": "candidate", "version": "v1"})
	require.Equal(t, http.StatusCreated, code)
	modelID := decodeID(t, resp)

	code, resp = api.do(t, model.Curator, http.MethodPost, "/api/batches", map[string]interface{}{
		"name": "run", "modelId": modelID, "datasetVersionId": emptyID,
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, util.KindInvalidState, resp.Kind)
}

func TestStartBatchOverHTTP(t *testing.T) {
	api := newTestAPI(t)

	_, resp := api.do(t, model.Curator, http.MethodPost, "/api/questions", map[string]string{"content": "Name a prime number."})
	qid := decodeID(t, resp)
	_, resp = api.do(t, model.Curator, http.MethodPost, "/api/datasets", map[string]interface{}{"name": "v1", "questionIds": []uint{qid}})
	dsID := decodeID(t, resp)
	code, _ := api.do(t, model.Curator, http.MethodPost, fmt.Sprintf("/api/datasets/%d/publish", dsID), nil)
	require.Equal(t, http.StatusOK, code)
	_, resp = api.do(t, model.Curator, http.MethodPost, "/api/models", map[string]string{"name": "candidate", "version": "v1"})
	modelID := decodeID(t, resp)

	code, resp = api.do(t, model.Curator, http.MethodPost, "/api/batches", map[string]interface{}{
		"name": "run", "modelId": modelID, "datasetVersionId": dsID,
	})
	require.Equal(t, http.StatusCreated, code)
	batchID := decodeID(t, resp)

	code, resp = api.do(t, model.Curator, http.MethodPost, fmt.Sprintf("/api/batches/%d/start", batchID), nil)
	require.Equal(t, http.StatusOK, code)
	var batch model.EvaluationBatch
	require.NoError(t, json.Unmarshal(resp.Data, &batch))
	assert.Equal(t, model.BatchCompleted, batch.Status)
	assert.Equal(t, []uint{qid}, batch.MetricsSummary.Data().UnscoredQuestionIDs)

	code, resp = api.do(t, model.Curator, http.MethodPost, fmt.Sprintf("/api/batches/%d/start", batchID), nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, util.KindInvalidState, resp.Kind)

	code, _ = api.do(t, model.Curator, http.MethodDelete, fmt.Sprintf("/api/batches/%d", batchID), nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestWatchProgressOverWebsocket(t *testing.T) {
	api := newTestAPI(t)

	code, resp := api.do(t, model.Curator, http.MethodGet, "/api/batches/999/ws", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, util.KindNotFound, resp.Kind)

	_, resp = api.do(t, model.Curator, http.MethodPost, "/api/questions", map[string]string{"content": "Name a prime number."})
	qid := decodeID(t, resp)
	_, resp = api.do(t, model.Curator, http.MethodPost, "/api/datasets", map[string]interface{}{"name": "v1", "questionIds": []uint{qid}})
	dsID := decodeID(t, resp)
	_, _ = api.do(t, model.Curator, http.MethodPost, fmt.Sprintf("/api/datasets/%d/publish", dsID), nil)
	_, resp = api.do(t, model.Curator, http.MethodPost, "/api/models", map[string]string{"name": "candidate", "version": "v1"})
	modelID := decodeID(t, resp)
	_, resp = api.do(t, model.Curator, http.MethodPost, "/api/batches", map[string]interface{}{
		"name": "run", "modelId": modelID, "datasetVersionId": dsID,
	})
	batchID := decodeID(t, resp)

	srv := httptest.NewServer(api.router)
	t.Cleanup(srv.Close)
	url := fmt.Sprintf("ws%s/api/batches/%d/ws?token=%s", strings.TrimPrefix(srv.URL, "http"), batchID, api.tokens[model.Contributor])
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var snapshot service.ProgressEvent
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, service.ProgressSnapshot, snapshot.Type)
	assert.Equal(t, batchID, snapshot.BatchID)
	assert.Equal(t, model.BatchPending, snapshot.Status)

	code, _ = api.do(t, model.Curator, http.MethodPost, fmt.Sprintf("/api/batches/%d/start", batchID), nil)
	require.Equal(t, http.StatusOK, code)

	var finished service.ProgressEvent
	require.NoError(t, conn.ReadJSON(&finished))
	assert.Equal(t, service.ProgressFinished, finished.Type)
	assert.Equal(t, model.BatchCompleted, finished.Status)
	require.NotNil(t, finished.Metrics)
	assert.Equal(t, []uint{qid}, finished.Metrics.UnscoredQuestionIDs)
}
