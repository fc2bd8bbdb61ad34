package service

import (
	"context"
	"llm_eval_backend/internal/config"
	"llm_eval_backend/internal/model"
	"llm_eval_backend/internal/repository"
	"llm_eval_backend/internal/util"
	"llm_eval_backend/pkg/logger"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// BatchEnqueuer 将批次执行投递到任务队列
type BatchEnqueuer interface {
	EnqueueBatch(ctx context.Context, batchID uint) error
}

// RunMode 批次执行方式
type RunMode string

const (
	RunInline     RunMode = "inline"
	RunBackground RunMode = "background"
	RunQueued     RunMode = "queued"
)

// EvaluationBatchService 评测批次调度
type EvaluationBatchService struct {
	BatchRepo    *repository.EvaluationBatchRepository
	EvalRepo     *repository.EvaluationRepository
	DatasetRepo  *repository.DatasetRepository
	AnswerRepo   *repository.StandardAnswerRepository
	LlmRepo      *repository.LlmRepository
	QuestionRepo *repository.QuestionRepository

	Judge    Judge
	Storage  *StorageService
	Queue    BatchEnqueuer
	Cache    *redis.Client
	Progress *ProgressHub

	cfgMu sync.RWMutex
	cfg   config.EvaluationConfig

	runMu   sync.Mutex
	running map[uint]context.CancelFunc

	units *keyedMutex
}

func NewEvaluationBatchService(
	batchRepo *repository.EvaluationBatchRepository,
	evalRepo *repository.EvaluationRepository,
	datasetRepo *repository.DatasetRepository,
	answerRepo *repository.StandardAnswerRepository,
	llmRepo *repository.LlmRepository,
	questionRepo *repository.QuestionRepository,
	cfg config.EvaluationConfig,
) *EvaluationBatchService {
	return &EvaluationBatchService{
		BatchRepo:    batchRepo,
		EvalRepo:     evalRepo,
		DatasetRepo:  datasetRepo,
		AnswerRepo:   answerRepo,
		LlmRepo:      llmRepo,
		QuestionRepo: questionRepo,
		cfg:          cfg.Normalize(),
		running:      make(map[uint]context.CancelFunc),
		units:        newKeyedMutex(),
	}
}

// UpdateEvaluationConfig 配置热更新，只影响之后启动的批次
func (s *EvaluationBatchService) UpdateEvaluationConfig(cfg config.EvaluationConfig) {
	s.cfgMu.Lock()
	s.cfg = cfg.Normalize()
	s.cfgMu.Unlock()
	logger.Log.Info("评测配置已更新",
		zap.Int("workers", cfg.Workers),
		zap.Duration("unitTimeout", cfg.UnitTimeout),
		zap.Int("maxRetries", cfg.MaxRetries))
}

func (s *EvaluationBatchService) config() config.EvaluationConfig {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

type CreateBatchRequest struct {
	Name             string   `json:"name" binding:"required"`
	Description      string   `json:"description"`
	ModelID          uint     `json:"modelId" binding:"required"`
	JudgeModelID     *uint    `json:"judgeModelId"`
	DatasetVersionID uint     `json:"datasetVersionId" binding:"required"`
	EvaluationMethod string   `json:"evaluationMethod"`
	PassingThreshold *float64 `json:"passingThreshold"`
}

type UpdateBatchRequest struct {
	Name             *string  `json:"name"`
	Description      *string  `json:"description"`
	JudgeModelID     *uint    `json:"judgeModelId"`
	EvaluationMethod *string  `json:"evaluationMethod"`
	PassingThreshold *float64 `json:"passingThreshold"`
}

func validThreshold(t float64) error {
	if t <= 0 || t > 1 {
		return util.Validation("passing threshold must be in (0, 1]")
	}
	return nil
}

func (s *EvaluationBatchService) checkJudge(method model.EvaluationMethod, judgeModelID *uint) error {
	if method != model.MethodJudgeModel {
		return nil
	}
	if judgeModelID == nil {
		return util.Validation("judgeModelId is required for judge_model evaluation")
	}
	if _, err := s.LlmRepo.FindModelByID(*judgeModelID); err != nil {
		return util.WrapNotFound(err, "judge model", *judgeModelID)
	}
	return nil
}

// CreateBatch 模型与数据集必须存在，数据集必须已发布
func (s *EvaluationBatchService) CreateBatch(req CreateBatchRequest, creatorID uint) (*model.EvaluationBatch, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, util.Validation("name is required")
	}
	method := model.EvaluationMethod(req.EvaluationMethod)
	if method == "" {
		method = model.MethodAuto
	}
	if !method.Valid() {
		return nil, util.Validation("invalid evaluation method %q", req.EvaluationMethod)
	}
	threshold := s.config().PassingThreshold
	if req.PassingThreshold != nil {
		threshold = *req.PassingThreshold
	}
	if err := validThreshold(threshold); err != nil {
		return nil, err
	}

	if _, err := s.LlmRepo.FindModelByID(req.ModelID); err != nil {
		return nil, util.WrapNotFound(err, "model", req.ModelID)
	}
	if err := s.checkJudge(method, req.JudgeModelID); err != nil {
		return nil, err
	}

	batch := &model.EvaluationBatch{
		Name:             name,
		Description:      req.Description,
		ModelID:          req.ModelID,
		JudgeModelID:     req.JudgeModelID,
		DatasetVersionID: req.DatasetVersionID,
		EvaluationMethod: method,
		Status:           model.BatchPending,
		PassingThreshold: threshold,
		MetricsSummary:   datatypes.NewJSONType(model.BatchMetrics{}),
		CreatedBy:        creatorID,
	}
	// 与 Unpublish 在同一行锁上串行，保证批次只引用已发布的数据集
	err := s.BatchRepo.DB.Transaction(func(tx *gorm.DB) error {
		dataset, err := s.DatasetRepo.WithTx(tx).LockByID(req.DatasetVersionID)
		if err != nil {
			return util.WrapNotFound(err, "dataset version", req.DatasetVersionID)
		}
		if !dataset.IsPublished {
			return util.InvalidState("dataset version %d is not published", dataset.ID)
		}
		return s.BatchRepo.WithTx(tx).Create(batch)
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (s *EvaluationBatchService) GetBatch(id uint) (*model.EvaluationBatch, error) {
	b, err := s.BatchRepo.FindByID(id)
	if err != nil {
		return nil, util.WrapNotFound(err, "evaluation batch", id)
	}
	return b, nil
}

func (s *EvaluationBatchService) ListBatches(filter repository.BatchFilter, page, limit int) ([]model.EvaluationBatch, int64, error) {
	page, limit = util.NormalizePage(page, limit)
	return s.BatchRepo.List(filter, page, limit)
}

// UpdateBatch 只允许修改 pending 批次
func (s *EvaluationBatchService) UpdateBatch(id uint, req UpdateBatchRequest) (*model.EvaluationBatch, error) {
	b, err := s.GetBatch(id)
	if err != nil {
		return nil, err
	}
	if b.Status != model.BatchPending {
		return nil, util.InvalidState("batch %d is %s", id, b.Status)
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, util.Validation("name is required")
		}
		b.Name = name
	}
	if req.Description != nil {
		b.Description = *req.Description
	}
	if req.EvaluationMethod != nil {
		m := model.EvaluationMethod(*req.EvaluationMethod)
		if !m.Valid() {
			return nil, util.Validation("invalid evaluation method %q", *req.EvaluationMethod)
		}
		b.EvaluationMethod = m
	}
	if req.JudgeModelID != nil {
		b.JudgeModelID = req.JudgeModelID
	}
	if req.PassingThreshold != nil {
		if err := validThreshold(*req.PassingThreshold); err != nil {
			return nil, err
		}
		b.PassingThreshold = *req.PassingThreshold
	}
	if err := s.checkJudge(b.EvaluationMethod, b.JudgeModelID); err != nil {
		return nil, err
	}
	if err := s.BatchRepo.Save(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *EvaluationBatchService) DeleteBatch(id uint) error {
	b, err := s.GetBatch(id)
	if err != nil {
		return err
	}
	if b.Status != model.BatchPending {
		return util.InvalidState("batch %d is %s", id, b.Status)
	}
	return s.BatchRepo.Delete(id)
}

// StartBatch pending -> in_progress 的原子切换，随后按 mode 执行
func (s *EvaluationBatchService) StartBatch(ctx context.Context, id uint, threshold *float64, mode RunMode) (*model.EvaluationBatch, error) {
	b, err := s.GetBatch(id)
	if err != nil {
		return nil, err
	}
	if b.Status != model.BatchPending {
		return nil, util.InvalidState("batch %d is %s", id, b.Status)
	}
	th := b.PassingThreshold
	if threshold != nil {
		th = *threshold
	}
	if err := validThreshold(th); err != nil {
		return nil, err
	}

	now := time.Now()
	ok, err := s.BatchRepo.TransitionStatus(id, []model.BatchStatus{model.BatchPending}, model.BatchInProgress, map[string]interface{}{
		"start_time":        &now,
		"end_time":          nil,
		"failure_reason":    "",
		"passing_threshold": th,
		"run_count":         gorm.Expr("run_count + 1"),
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, util.InvalidState("batch %d is no longer pending", id)
	}
	logger.Log.Info("评测批次开始",
		zap.Uint("batchId", id),
		zap.String("method", string(b.EvaluationMethod)),
		zap.String("mode", string(mode)))

	if mode == RunQueued && s.Queue == nil {
		mode = RunBackground
	}
	switch mode {
	case RunInline:
		if err := s.Execute(ctx, id); err != nil {
			return nil, err
		}
	case RunQueued:
		if err := s.Queue.EnqueueBatch(ctx, id); err != nil {
			s.fail(id, "enqueue failed: "+err.Error())
			return nil, util.Transient(err, "enqueue batch %d", id)
		}
	default:
		go func() {
			if err := s.Execute(context.Background(), id); err != nil {
				logger.Log.Error("评测批次执行失败", zap.Uint("batchId", id), zap.Error(err))
			}
		}()
	}
	return s.GetBatch(id)
}

// DefaultRunMode 队列优先，其次按配置决定是否异步
func (s *EvaluationBatchService) DefaultRunMode() RunMode {
	if s.Queue != nil {
		return RunQueued
	}
	if s.config().Async {
		return RunBackground
	}
	return RunInline
}

// CancelBatch 停止派发新的评测单元，已在执行的单元自行完成或超时
func (s *EvaluationBatchService) CancelBatch(id uint) (*model.EvaluationBatch, error) {
	b, err := s.GetBatch(id)
	if err != nil {
		return nil, err
	}
	if b.Status != model.BatchInProgress {
		return nil, util.InvalidState("batch %d is %s", id, b.Status)
	}

	s.runMu.Lock()
	cancel, local := s.running[id]
	s.runMu.Unlock()
	if local {
		cancel()
		return b, nil
	}

	// 不在本进程执行（队列 worker 或进程重启遗留），直接标记失败
	s.fail(id, "cancelled")
	return s.GetBatch(id)
}

// ResetBatch completed | failed -> pending，保留已有评测结果以便重跑时覆盖
func (s *EvaluationBatchService) ResetBatch(id uint) (*model.EvaluationBatch, error) {
	b, err := s.GetBatch(id)
	if err != nil {
		return nil, err
	}
	if !b.Status.CanTransitionTo(model.BatchPending) {
		return nil, util.InvalidState("batch %d is %s", id, b.Status)
	}
	ok, err := s.BatchRepo.TransitionStatus(id, []model.BatchStatus{model.BatchCompleted, model.BatchFailed}, model.BatchPending, map[string]interface{}{
		"failure_reason": "",
		"start_time":     nil,
		"end_time":       nil,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, util.InvalidState("batch %d changed concurrently", id)
	}
	return s.GetBatch(id)
}

// RecoverInterrupted 进程启动时把无人执行的 in_progress 批次标记为失败
func (s *EvaluationBatchService) RecoverInterrupted() {
	batches, err := s.BatchRepo.ListInProgress()
	if err != nil {
		logger.Log.Warn("查询运行中批次失败", zap.Error(err))
		return
	}
	for _, b := range batches {
		s.fail(b.ID, "interrupted by restart")
	}
}

func (s *EvaluationBatchService) fail(id uint, reason string) {
	now := time.Now()
	ok, err := s.BatchRepo.TransitionStatus(id, []model.BatchStatus{model.BatchInProgress}, model.BatchFailed, map[string]interface{}{
		"end_time":       &now,
		"failure_reason": reason,
	})
	if err != nil {
		logger.Log.Error("标记批次失败出错", zap.Uint("batchId", id), zap.Error(err))
		return
	}
	if ok {
		logger.Log.Warn("评测批次失败", zap.Uint("batchId", id), zap.String("reason", reason))
	}
}
