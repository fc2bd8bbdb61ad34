package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"llm_eval_backend/internal/config"
	"llm_eval_backend/internal/model"
	"llm_eval_backend/internal/scoring"
	"llm_eval_backend/internal/util"
	"net/http"
	"strings"
	"time"
)

// Judge 裁判模型接口，返回每个得分点的判定
type Judge interface {
	Judge(ctx context.Context, req JudgeRequest) (*JudgeVerdict, error)
}

type JudgeRequest struct {
	JudgeModel *model.LlmModel
	Question   string
	Reference  string
	Answer     string
	Rubric     scoring.Rubric
}

type JudgeVerdict struct {
	Signals   map[int]scoring.Signal
	Rationale string
}

// JudgeService OpenAI 兼容的 chat/completions 裁判实现
type JudgeService struct {
	config config.AIConfig
	client *http.Client
}

func NewJudgeService(cfg config.AIConfig) *JudgeService {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &JudgeService{config: cfg, client: &http.Client{Timeout: timeout}}
}

type AIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCompletionRequest struct {
	Model       string          `json:"model"`
	Messages    []AIChatMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
}

type ChatCompletionResponse struct {
	Choices []struct {
		Message AIChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// judgeEndpoint 模型自身 apiConfig 中的 base_url / api_key / model 优先于全局配置
type judgeEndpoint struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
}

type judgeOutput struct {
	Verdicts []struct {
		Order      int     `json:"order"`
		Matched    bool    `json:"matched"`
		Similarity float64 `json:"similarity"`
		Note       string  `json:"note"`
	} `json:"verdicts"`
	Rationale string `json:"rationale"`
}

const judgeSystemPrompt = "你是一名严格的答案评审员。给定问题、参考答案、得分点列表和待评答案，" +
	"逐条判断待评答案是否覆盖每个得分点。只输出 JSON，格式为：" +
	`{"verdicts":[{"order":<得分点序号>,"matched":<true|false>,"similarity":<0到1>,"note":"<简短依据>"}],"rationale":"<总体评语>"}` +
	"。不要输出任何额外文字。"

func (s *JudgeService) endpoint(m *model.LlmModel) judgeEndpoint {
	ep := judgeEndpoint{BaseURL: s.config.BaseURL, APIKey: s.config.APIKey, Model: s.config.Model}
	if m == nil {
		return ep
	}
	if m.Name != "" {
		ep.Model = m.Name
	}
	if len(m.APIConfig) > 0 {
		var override judgeEndpoint
		if err := json.Unmarshal(m.APIConfig, &override); err == nil {
			if override.BaseURL != "" {
				ep.BaseURL = override.BaseURL
			}
			if override.APIKey != "" {
				ep.APIKey = override.APIKey
			}
			if override.Model != "" {
				ep.Model = override.Model
			}
		}
	}
	return ep
}

func buildJudgePrompt(req JudgeRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "【问题】\n%s\n\n【参考答案】\n%s\n\n【得分点】\n", req.Question, req.Reference)
	for _, kp := range req.Rubric.KeyPoints {
		fmt.Fprintf(&b, "%d. [%s, 权重 %.2f] %s", kp.Order, kp.Type, kp.Weight, kp.Text)
		if kp.Example != "" {
			fmt.Fprintf(&b, "（示例：%s）", kp.Example)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\n【待评答案】\n%s\n", req.Answer)
	return b.String()
}

func (s *JudgeService) Judge(ctx context.Context, req JudgeRequest) (*JudgeVerdict, error) {
	ep := s.endpoint(req.JudgeModel)
	if ep.BaseURL == "" {
		return nil, errors.New("judge model endpoint is not configured")
	}

	reqBody := ChatCompletionRequest{
		Model: ep.Model,
		Messages: []AIChatMessage{
			{Role: "system", Content: judgeSystemPrompt},
			{Role: "user", Content: buildJudgePrompt(req)},
		},
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(ep.BaseURL, "/")+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if ep.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+ep.APIKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, util.Transient(err, "judge request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, util.Transient(err, "read judge response")
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return nil, util.Transient(nil, "judge API error (status %d): %s", resp.StatusCode, truncate(string(body), 200))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("judge API error (status %d): %s", resp.StatusCode, truncate(string(body), 200))
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("decode judge response: %w", err)
	}
	if chatResp.Error != nil {
		return nil, fmt.Errorf("judge API error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return nil, errors.New("judge response has no choices")
	}
	return parseJudgeOutput(chatResp.Choices[0].Message.Content, req.Rubric)
}

// parseJudgeOutput 解析模型输出的 JSON，容忍 markdown 代码块包裹
func parseJudgeOutput(content string, rubric scoring.Rubric) (*JudgeVerdict, error) {
	raw := strings.TrimSpace(content)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	}
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		raw = raw[start : end+1]
	}

	var out judgeOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("malformed judge output: %w", err)
	}

	known := make(map[int]bool, len(rubric.KeyPoints))
	for _, kp := range rubric.KeyPoints {
		known[kp.Order] = true
	}
	signals := make(map[int]scoring.Signal, len(out.Verdicts))
	for _, v := range out.Verdicts {
		if !known[v.Order] {
			continue
		}
		signals[v.Order] = scoring.Signal{Matched: v.Matched, Similarity: v.Similarity, Note: v.Note}
	}
	if len(rubric.KeyPoints) > 0 && len(signals) == 0 {
		return nil, errors.New("malformed judge output: no verdict matches the rubric")
	}
	return &JudgeVerdict{Signals: signals, Rationale: out.Rationale}, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
