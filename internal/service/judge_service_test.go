package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"llm_eval_backend/internal/config"
	"llm_eval_backend/internal/model"
	"llm_eval_backend/internal/scoring"
	"llm_eval_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

var judgeRubric = scoring.Rubric{KeyPoints: []scoring.KeyPoint{
	{Order: 1, Text: "Paris", Weight: 1, Type: scoring.Required},
	{Order: 2, Text: "Eiffel Tower", Weight: 0.5, Type: scoring.Bonus},
}}

func judgeRequest(m *model.LlmModel) JudgeRequest {
	return JudgeRequest{
		JudgeModel: m,
		Question:   "What is the capital of France?",
		Reference:  "Paris is the capital of France.",
		Answer:     "The capital is Paris.",
		Rubric:     judgeRubric,
	}
}

// chatServer 返回固定 content 的 chat/completions 服务
func chatServer(t *testing.T, status int, content string, seen *ChatCompletionRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		if seen != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"upstream"}}`))
			return
		}
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		}
		assert.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestJudgeServiceParsesVerdicts(t *testing.T) {
	content := "```json\n" +
		`{"verdicts":[{"order":1,"matched":true,"similarity":0.95,"note":"names Paris"},{"order":2,"matched":false,"similarity":0},{"order":9,"matched":true}],"rationale":"mostly correct"}` +
		"\n```"
	var seen ChatCompletionRequest
	srv := chatServer(t, http.StatusOK, content, &seen)

	judge := NewJudgeService(config.AIConfig{BaseURL: srv.URL + "/", Model: "default-judge", TimeoutSeconds: 5})
	verdict, err := judge.Judge(context.Background(), judgeRequest(&model.LlmModel{Name: "gpt-judge"}))
	require.NoError(t, err)

	assert.Equal(t, "gpt-judge", seen.Model)
	require.Len(t, seen.Messages, 2)
	assert.Contains(t, seen.Messages[1].Content, "Eiffel Tower")

	assert.Equal(t, "mostly correct", verdict.Rationale)
	require.Len(t, verdict.Signals, 2)
	assert.True(t, verdict.Signals[1].Matched)
	assert.InDelta(t, 0.95, verdict.Signals[1].Similarity, 1e-9)
	assert.False(t, verdict.Signals[2].Matched)
}

func TestJudgeServiceStatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := chatServer(t, tt.status, "", nil)
			judge := NewJudgeService(config.AIConfig{BaseURL: srv.URL})
			_, err := judge.Judge(context.Background(), judgeRequest(nil))
			require.Error(t, err)
			assert.Equal(t, tt.transient, util.IsTransient(err))
		})
	}
}

func TestJudgeServiceMalformedOutput(t *testing.T) {
	for _, content := range []string{
		"The answer looks fine to me.",
		`{"verdicts":[{"order":7,"matched":true}],"rationale":"wrong rubric"}`,
	} {
		srv := chatServer(t, http.StatusOK, content, nil)
		judge := NewJudgeService(config.AIConfig{BaseURL: srv.URL})
		_, err := judge.Judge(context.Background(), judgeRequest(nil))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "malformed judge output")
		assert.False(t, util.IsTransient(err))
	}
}

func TestJudgeServiceModelEndpointOverride(t *testing.T) {
	var seen ChatCompletionRequest
	srv := chatServer(t, http.StatusOK, `{"verdicts":[{"order":1,"matched":true}]}`, &seen)

	apiConfig, err := json.Marshal(map[string]string{"base_url": srv.URL, "model": "judge-large"})
	require.NoError(t, err)
	m := &model.LlmModel{Name: "judge", APIConfig: datatypes.JSON(apiConfig)}

	// 全局配置为空，只靠模型自身的 apiConfig
	judge := NewJudgeService(config.AIConfig{})
	verdict, err := judge.Judge(context.Background(), judgeRequest(m))
	require.NoError(t, err)
	assert.Equal(t, "judge-large", seen.Model)
	assert.True(t, verdict.Signals[1].Matched)

	_, err = judge.Judge(context.Background(), judgeRequest(&model.LlmModel{Name: "judge"}))
	assert.Error(t, err)
}

func TestJudgeServiceUnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	judge := NewJudgeService(config.AIConfig{BaseURL: url, TimeoutSeconds: 1})
	_, err := judge.Judge(context.Background(), judgeRequest(nil))
	require.Error(t, err)
	assert.True(t, util.IsTransient(err))
}
