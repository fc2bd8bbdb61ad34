package service

import (
	"context"
	"encoding/json"
	"fmt"
	"llm_eval_backend/internal/model"
	"llm_eval_backend/internal/repository"
	"llm_eval_backend/internal/scoring"
	"llm_eval_backend/internal/util"
	"llm_eval_backend/pkg/logger"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// EvaluationService 评测结果查询、人工评测与统计
type EvaluationService struct {
	EvalRepo   *repository.EvaluationRepository
	BatchRepo  *repository.EvaluationBatchRepository
	AnswerRepo *repository.StandardAnswerRepository
	LlmRepo    *repository.LlmRepository
	Batches    *EvaluationBatchService
	Storage    *StorageService
	Cache      *redis.Client
}

func NewEvaluationService(
	evalRepo *repository.EvaluationRepository,
	batchRepo *repository.EvaluationBatchRepository,
	answerRepo *repository.StandardAnswerRepository,
	llmRepo *repository.LlmRepository,
	batches *EvaluationBatchService,
) *EvaluationService {
	return &EvaluationService{
		EvalRepo:   evalRepo,
		BatchRepo:  batchRepo,
		AnswerRepo: answerRepo,
		LlmRepo:    llmRepo,
		Batches:    batches,
	}
}

type ManualVerdict struct {
	PointOrder int    `json:"pointOrder"`
	Matched    bool   `json:"matched"`
	Note       string `json:"note"`
}

type ManualEvaluationRequest struct {
	BatchID          uint            `json:"batchId" binding:"required"`
	LlmAnswerID      uint            `json:"llmAnswerId" binding:"required"`
	StandardAnswerID uint            `json:"standardAnswerId" binding:"required"`
	Verdicts         []ManualVerdict `json:"verdicts"`
	Comments         string          `json:"comments"`
}

type ScoreBucket struct {
	Range string `json:"range"`
	Count int    `json:"count"`
}

type BatchStatistics struct {
	BatchID              uint          `json:"batchId"`
	Threshold            float64       `json:"threshold"`
	Total                int           `json:"total"`
	Scored               int           `json:"scored"`
	Failed               int           `json:"failed"`
	AwaitingReview       int           `json:"awaitingReview"`
	RequiredMissingCount int           `json:"requiredMissingCount"`
	AverageScore         float64       `json:"averageScore"`
	MinScore             float64       `json:"minScore"`
	MaxScore             float64       `json:"maxScore"`
	PassingCount         int           `json:"passingCount"`
	PassingRate          float64       `json:"passingRate"`
	Distribution         []ScoreBucket `json:"distribution"`
}

type EvaluationDetail struct {
	model.Evaluation
	Rationale string `json:"rationale,omitempty"`
}

func (s *EvaluationService) List(filter repository.EvaluationFilter, page, limit int) ([]model.Evaluation, int64, error) {
	page, limit = util.NormalizePage(page, limit)
	return s.EvalRepo.List(filter, page, limit)
}

// Get 附带从对象存储读取的完整评测理由
func (s *EvaluationService) Get(ctx context.Context, id uint) (*EvaluationDetail, error) {
	e, err := s.EvalRepo.FindByID(id)
	if err != nil {
		return nil, util.WrapNotFound(err, "evaluation", id)
	}
	detail := &EvaluationDetail{Evaluation: *e}
	if e.RationaleRef != "" && s.Storage != nil {
		text, err := s.Storage.LoadRationale(ctx, e.RationaleRef)
		if err != nil {
			logger.Log.Warn("读取评测理由失败", zap.Uint("evaluationId", id), zap.Error(err))
		} else {
			detail.Rationale = text
		}
	}
	return detail, nil
}

func (s *EvaluationService) Delete(ctx context.Context, id uint) error {
	e, err := s.EvalRepo.FindByID(id)
	if err != nil {
		return util.WrapNotFound(err, "evaluation", id)
	}
	if err := s.EvalRepo.Delete(id); err != nil {
		return err
	}
	if e.RationaleRef != "" && s.Storage != nil {
		if err := s.Storage.DeleteRationale(ctx, e.RationaleRef); err != nil {
			logger.Log.Warn("删除评测理由失败", zap.String("ref", e.RationaleRef), zap.Error(err))
		}
	}
	invalidateBatchStats(s.Cache, e.BatchID)
	return nil
}

// SubmitManualEvaluation 人工逐条判定得分点后计分，覆盖该单元已有结果
func (s *EvaluationService) SubmitManualEvaluation(req ManualEvaluationRequest, evaluatorID uint) (*model.Evaluation, error) {
	batch, err := s.BatchRepo.FindByID(req.BatchID)
	if err != nil {
		return nil, util.WrapNotFound(err, "evaluation batch", req.BatchID)
	}
	llmAnswer, err := s.LlmRepo.FindAnswerByID(req.LlmAnswerID)
	if err != nil {
		return nil, util.WrapNotFound(err, "llm answer", req.LlmAnswerID)
	}
	standard, err := s.AnswerRepo.FindByID(req.StandardAnswerID)
	if err != nil {
		return nil, util.WrapNotFound(err, "standard answer", req.StandardAnswerID)
	}
	if llmAnswer.ModelID != batch.ModelID {
		return nil, util.Validation("llm answer %d does not belong to model %d", llmAnswer.ID, batch.ModelID)
	}
	if llmAnswer.QuestionID != standard.QuestionID {
		return nil, util.Validation("llm answer and standard answer refer to different questions")
	}

	rubric := scoring.RubricOrImplicit(ToRubricKeyPoints(standard.KeyPoints), standard.Content)
	known := make(map[int]bool, len(rubric.KeyPoints))
	for _, kp := range rubric.KeyPoints {
		known[kp.Order] = true
	}
	signals := make(map[int]scoring.Signal, len(req.Verdicts))
	for _, v := range req.Verdicts {
		if !known[v.PointOrder] {
			return nil, util.Validation("key point %d is not part of the rubric", v.PointOrder)
		}
		sim := 0.0
		if v.Matched {
			sim = 1
		}
		signals[v.PointOrder] = scoring.Signal{Matched: v.Matched, Similarity: sim, Note: v.Note}
	}

	opts := scoring.Options{RequiredMissingCeiling: s.Batches.config().RequiredMissingCeiling}
	res := scoring.ScoreSignals(rubric, signals, opts)

	evaluator := evaluatorID
	eval := model.Evaluation{
		BatchID:             batch.ID,
		LlmAnswerID:         llmAnswer.ID,
		StandardAnswerID:    standard.ID,
		QuestionID:          standard.QuestionID,
		Method:              model.MethodHuman,
		Comments:            req.Comments,
		EvaluatorID:         &evaluator,
		Attempts:            1,
		KeyPointsEvaluation: datatypes.NewJSONType([]model.KeyPointResult{}),
	}
	applyResult(&eval, res)

	unlock := s.Batches.units.Lock(fmt.Sprintf("%d:%d:%d", batch.ID, llmAnswer.ID, standard.ID))
	err = s.EvalRepo.Upsert(&eval)
	unlock()
	if err != nil {
		return nil, err
	}
	invalidateBatchStats(s.Cache, batch.ID)

	saved, err := s.EvalRepo.FindUnit(batch.ID, llmAnswer.ID, standard.ID)
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func batchStatsKey(batchID uint) string {
	return fmt.Sprintf("llm-eval:batch-stats:%d", batchID)
}

func invalidateBatchStats(cache *redis.Client, batchID uint) {
	if cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := cache.Del(ctx, batchStatsKey(batchID)).Err(); err != nil {
		logger.Log.Warn("清除批次统计缓存失败", zap.Uint("batchId", batchID), zap.Error(err))
	}
}

// BatchStatistics 按阈值统计批次结果；配置了 Redis 时缓存
func (s *EvaluationService) BatchStatistics(ctx context.Context, batchID uint, threshold *float64) (*BatchStatistics, error) {
	batch, err := s.BatchRepo.FindByID(batchID)
	if err != nil {
		return nil, util.WrapNotFound(err, "evaluation batch", batchID)
	}
	th := batch.PassingThreshold
	if threshold != nil {
		th = *threshold
	}
	if err := validThreshold(th); err != nil {
		return nil, err
	}

	field := fmt.Sprintf("%.4f", th)
	if s.Cache != nil {
		if raw, err := s.Cache.HGet(ctx, batchStatsKey(batchID), field).Bytes(); err == nil {
			var cached BatchStatistics
			if json.Unmarshal(raw, &cached) == nil {
				return &cached, nil
			}
		}
	}

	rows, err := s.EvalRepo.ByBatch(batchID)
	if err != nil {
		return nil, err
	}
	stats := computeStatistics(batchID, th, rows)

	if s.Cache != nil {
		if raw, err := json.Marshal(stats); err == nil {
			key := batchStatsKey(batchID)
			pipe := s.Cache.TxPipeline()
			pipe.HSet(ctx, key, field, raw)
			pipe.Expire(ctx, key, s.Batches.config().StatsCacheTTL)
			if _, err := pipe.Exec(ctx); err != nil {
				logger.Log.Warn("写入批次统计缓存失败", zap.Uint("batchId", batchID), zap.Error(err))
			}
		}
	}
	return stats, nil
}

var bucketLabels = []string{"0.0-0.2", "0.2-0.4", "0.4-0.6", "0.6-0.8", "0.8-1.0"}

func computeStatistics(batchID uint, threshold float64, rows []model.Evaluation) *BatchStatistics {
	stats := &BatchStatistics{
		BatchID:      batchID,
		Threshold:    threshold,
		Total:        len(rows),
		Distribution: make([]ScoreBucket, len(bucketLabels)),
	}
	for i, label := range bucketLabels {
		stats.Distribution[i].Range = label
	}

	var sum float64
	for _, e := range rows {
		switch e.Status {
		case model.EvaluationFailed:
			stats.Failed++
			continue
		case model.EvaluationAwaitingReview:
			stats.AwaitingReview++
			continue
		}
		if e.Score == nil {
			continue
		}
		score := *e.Score
		if stats.Scored == 0 || score < stats.MinScore {
			stats.MinScore = score
		}
		if stats.Scored == 0 || score > stats.MaxScore {
			stats.MaxScore = score
		}
		stats.Scored++
		sum += score
		if score >= threshold {
			stats.PassingCount++
		}
		if e.RequiredMissing {
			stats.RequiredMissingCount++
		}
		idx := int(score * 5)
		if idx >= len(bucketLabels) {
			idx = len(bucketLabels) - 1
		}
		if idx < 0 {
			idx = 0
		}
		stats.Distribution[idx].Count++
	}
	if stats.Scored > 0 {
		stats.AverageScore = sum / float64(stats.Scored)
		stats.PassingRate = float64(stats.PassingCount) / float64(stats.Scored)
	}
	return stats
}

// ModelComparison 已完成批次上各模型的平均分与通过率
func (s *EvaluationService) ModelComparison(datasetVersionID uint, modelIDs []uint) ([]repository.ModelComparisonRow, error) {
	return s.EvalRepo.ModelComparison(datasetVersionID, modelIDs)
}
