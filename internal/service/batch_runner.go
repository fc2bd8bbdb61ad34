package service

import (
	"context"
	"errors"
	"fmt"
	"llm_eval_backend/internal/config"
	"llm_eval_backend/internal/model"
	"llm_eval_backend/internal/scoring"
	"llm_eval_backend/internal/util"
	"llm_eval_backend/pkg/logger"
	"llm_eval_backend/pkg/monitoring"
	"llm_eval_backend/pkg/tracing"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// evaluationUnit 一个 (模型回答, 最终标准答案) 评测单元
type evaluationUnit struct {
	Question model.StandardQuestion
	Answer   model.LlmAnswer
	Standard model.StandardAnswer
}

func (u evaluationUnit) key(batchID uint) string {
	return fmt.Sprintf("%d:%d:%d", batchID, u.Answer.ID, u.Standard.ID)
}

type unitOutcome struct {
	Evaluation model.Evaluation
	Exhausted  bool
	Err        error
}

// runPlan 批次执行前解析出的全部输入
type runPlan struct {
	Units          []evaluationUnit
	TotalQuestions int
	Unscored       []uint
	Unanswered     int
}

// Execute 执行一个 in_progress 批次。批次状态与汇总指标只在这里写入
func (s *EvaluationBatchService) Execute(ctx context.Context, batchID uint) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.runMu.Lock()
	if _, dup := s.running[batchID]; dup {
		s.runMu.Unlock()
		return util.Conflict("batch %d is already running in this process", batchID)
	}
	s.running[batchID] = cancel
	s.runMu.Unlock()
	defer func() {
		s.runMu.Lock()
		delete(s.running, batchID)
		s.runMu.Unlock()
	}()

	ctx, span := tracing.Tracer.Start(ctx, "evaluation.batch")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.id", int(batchID)))

	monitoring.BatchesInProgress.Inc()
	defer monitoring.BatchesInProgress.Dec()

	batch, err := s.BatchRepo.WithContext(ctx).FindByID(batchID)
	if err != nil {
		return util.WrapNotFound(err, "evaluation batch", batchID)
	}
	if batch.Status != model.BatchInProgress {
		return util.InvalidState("batch %d is %s", batchID, batch.Status)
	}

	cfg := s.config()
	log := logger.Component("scheduler").With(zap.Uint("batchId", batchID), zap.String("method", string(batch.EvaluationMethod)))

	plan, err := s.plan(batch)
	if err != nil {
		tracing.RecordError(span, err)
		s.finishFailed(batch, err.Error())
		return nil
	}

	var judgeModel *model.LlmModel
	if batch.EvaluationMethod == model.MethodJudgeModel {
		if batch.JudgeModelID == nil {
			s.finishFailed(batch, "judge model is not set")
			return nil
		}
		judgeModel, err = s.LlmRepo.FindModelByID(*batch.JudgeModelID)
		if err != nil {
			s.finishFailed(batch, fmt.Sprintf("judge model %d: %v", *batch.JudgeModelID, err))
			return nil
		}
	}

	existing := map[string]model.Evaluation{}
	if batch.EvaluationMethod == model.MethodHuman {
		rows, err := s.EvalRepo.ByBatch(batchID)
		if err != nil {
			s.finishFailed(batch, err.Error())
			return nil
		}
		for _, row := range rows {
			existing[fmt.Sprintf("%d:%d:%d", row.BatchID, row.LlmAnswerID, row.StandardAnswerID)] = row
		}
	}

	log.Info("评测单元开始派发", zap.Int("units", len(plan.Units)), zap.Int("workers", cfg.Workers))

	results := make(chan unitOutcome, len(plan.Units))
	var (
		g    errgroup.Group
		done atomic.Int32
	)
	g.SetLimit(cfg.Workers)
	for _, unit := range plan.Units {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out := s.runUnit(ctx, batch, unit, judgeModel, existing, cfg)
			results <- out
			s.Progress.Publish(ProgressEvent{
				Type:        ProgressUnitDone,
				BatchID:     batchID,
				Status:      model.BatchInProgress,
				Done:        int(done.Add(1)),
				Total:       len(plan.Units),
				LlmAnswerID: unit.Answer.ID,
				UnitStatus:  out.Evaluation.Status,
				Score:       out.Evaluation.Score,
			})
			return out.Err
		})
	}
	fatal := g.Wait()
	close(results)

	outcomes := make([]unitOutcome, 0, len(plan.Units))
	for out := range results {
		outcomes = append(outcomes, out)
	}

	metrics := summarize(outcomes, batch.PassingThreshold, plan)

	// 判定终态
	reason := ""
	exhausted := 0
	for _, out := range outcomes {
		if out.Exhausted {
			exhausted++
		}
	}
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		reason = fmt.Sprintf("cancelled after %d of %d units", len(outcomes), len(plan.Units))
	case fatal != nil:
		reason = fatal.Error()
	case exhausted > 0:
		reason = fmt.Sprintf("%d units exhausted retries on transient errors", exhausted)
	}
	if reason == "" {
		if _, err := s.DatasetRepo.FindByID(batch.DatasetVersionID); err != nil {
			reason = fmt.Sprintf("dataset version %d is no longer available", batch.DatasetVersionID)
		}
	}

	status := model.BatchCompleted
	if reason != "" {
		status = model.BatchFailed
		span.SetAttributes(attribute.String("batch.failure", reason))
	}
	if err := s.finish(batch.ID, status, metrics, reason); err != nil {
		return err
	}
	s.Progress.Publish(ProgressEvent{
		Type:    ProgressFinished,
		BatchID: batchID,
		Status:  status,
		Done:    len(outcomes),
		Total:   len(plan.Units),
		Metrics: &metrics,
		Reason:  reason,
	})

	log.Info("评测批次结束",
		zap.String("status", string(status)),
		zap.Int("scored", metrics.ScoredCount),
		zap.Int("failed", metrics.FailedCount),
		zap.Float64("averageScore", metrics.AverageScore),
		zap.String("reason", reason))
	return nil
}

// plan 解析数据集问题、最终标准答案与模型回答
func (s *EvaluationBatchService) plan(batch *model.EvaluationBatch) (*runPlan, error) {
	if _, err := s.DatasetRepo.FindByID(batch.DatasetVersionID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("dataset version %d is no longer available", batch.DatasetVersionID)
		}
		return nil, err
	}
	questions, err := s.DatasetRepo.Questions(batch.DatasetVersionID)
	if err != nil {
		return nil, err
	}
	qids := make([]uint, 0, len(questions))
	for _, q := range questions {
		qids = append(qids, q.ID)
	}

	finals, err := s.AnswerRepo.FinalAnswersFor(qids)
	if err != nil {
		return nil, err
	}
	answers, err := s.LlmRepo.FinalAnswersForRun(batch.ModelID, batch.DatasetVersionID, qids)
	if err != nil {
		return nil, err
	}
	byQuestion := make(map[uint][]model.LlmAnswer, len(qids))
	for _, a := range answers {
		byQuestion[a.QuestionID] = append(byQuestion[a.QuestionID], a)
	}

	plan := &runPlan{TotalQuestions: len(questions), Unscored: []uint{}}
	for _, q := range questions {
		standard, ok := finals[q.ID]
		if !ok {
			plan.Unscored = append(plan.Unscored, q.ID)
			continue
		}
		modelAnswers := byQuestion[q.ID]
		if len(modelAnswers) == 0 {
			plan.Unanswered++
			continue
		}
		for _, a := range modelAnswers {
			plan.Units = append(plan.Units, evaluationUnit{Question: q, Answer: a, Standard: standard})
		}
	}
	return plan, nil
}

// runUnit 单元级超时与瞬时错误重试，结果按唯一键 upsert
func (s *EvaluationBatchService) runUnit(ctx context.Context, batch *model.EvaluationBatch, unit evaluationUnit,
	judgeModel *model.LlmModel, existing map[string]model.Evaluation, cfg config.EvaluationConfig) unitOutcome {

	key := unit.key(batch.ID)
	unlock := s.units.Lock(key)
	defer unlock()

	method := string(batch.EvaluationMethod)
	start := time.Now()

	if prev, ok := existing[key]; ok && prev.EvaluatorID != nil && prev.Status == model.EvaluationScored {
		monitoring.ObserveUnit(method, "kept", time.Since(start))
		return unitOutcome{Evaluation: prev}
	}

	ctx, span := tracing.Tracer.Start(ctx, "evaluation.unit")
	defer span.End()
	span.SetAttributes(
		attribute.Int("llm_answer.id", int(unit.Answer.ID)),
		attribute.Int("standard_answer.id", int(unit.Standard.ID)))

	uctx, cancel := context.WithTimeout(ctx, cfg.UnitTimeout)
	defer cancel()

	var (
		eval     model.Evaluation
		err      error
		attempts int
	)
	for {
		attempts++
		eval, err = s.evaluate(uctx, batch, unit, judgeModel, cfg)
		if err == nil || !util.IsTransient(err) || attempts > cfg.MaxRetries || uctx.Err() != nil {
			break
		}
		monitoring.EvaluationRetries.WithLabelValues(method).Inc()
		backoff := cfg.RetryBackoff << (attempts - 1)
		select {
		case <-uctx.Done():
		case <-time.After(backoff):
		}
		if uctx.Err() != nil {
			break
		}
	}

	exhausted := false
	if err != nil {
		tracing.RecordError(span, err)
		msg := err.Error()
		timedOut := errors.Is(uctx.Err(), context.DeadlineExceeded)
		if timedOut {
			msg = fmt.Sprintf("timed out after %s: %s", cfg.UnitTimeout, msg)
		}
		// 超时或取消打断的重试不算耗尽，只记为失败行
		exhausted = util.IsTransient(err) && attempts > cfg.MaxRetries && uctx.Err() == nil
		eval = s.baseEvaluation(batch, unit)
		eval.Status = model.EvaluationFailed
		eval.ErrorMessage = msg
	}
	eval.Attempts = attempts

	// 批次取消后仍需写入，已完成的结果不丢失
	if werr := s.EvalRepo.WithContext(context.WithoutCancel(ctx)).Upsert(&eval); werr != nil {
		monitoring.ObserveUnit(method, "error", time.Since(start))
		return unitOutcome{Evaluation: eval, Err: fmt.Errorf("save evaluation %s: %w", key, werr)}
	}
	monitoring.ObserveUnit(method, string(eval.Status), time.Since(start))
	return unitOutcome{Evaluation: eval, Exhausted: exhausted}
}

func (s *EvaluationBatchService) baseEvaluation(batch *model.EvaluationBatch, unit evaluationUnit) model.Evaluation {
	return model.Evaluation{
		BatchID:             batch.ID,
		LlmAnswerID:         unit.Answer.ID,
		StandardAnswerID:    unit.Standard.ID,
		QuestionID:          unit.Question.ID,
		Method:              batch.EvaluationMethod,
		JudgeModelID:        batch.JudgeModelID,
		KeyPointsEvaluation: datatypes.NewJSONType([]model.KeyPointResult{}),
	}
}

// evaluate 按评测方式产出单元结果
func (s *EvaluationBatchService) evaluate(ctx context.Context, batch *model.EvaluationBatch, unit evaluationUnit,
	judgeModel *model.LlmModel, cfg config.EvaluationConfig) (model.Evaluation, error) {

	if err := ctx.Err(); err != nil {
		return model.Evaluation{}, err
	}
	rubric := scoring.RubricOrImplicit(ToRubricKeyPoints(unit.Standard.KeyPoints), unit.Standard.Content)
	opts := scoring.Options{RequiredMissingCeiling: cfg.RequiredMissingCeiling}
	eval := s.baseEvaluation(batch, unit)

	switch batch.EvaluationMethod {
	case model.MethodAuto:
		res := scoring.Score(unit.Answer.Content, rubric, scoring.NewOverlapMatcher(cfg.MatchThreshold), opts)
		applyResult(&eval, res)

	case model.MethodJudgeModel:
		if s.Judge == nil {
			return eval, errors.New("judge model adapter is not configured")
		}
		verdict, err := s.Judge.Judge(ctx, JudgeRequest{
			JudgeModel: judgeModel,
			Question:   unit.Question.Content,
			Reference:  unit.Standard.Content,
			Answer:     unit.Answer.Content,
			Rubric:     rubric,
		})
		if err != nil {
			return eval, err
		}
		applyResult(&eval, scoring.ScoreSignals(rubric, verdict.Signals, opts))
		s.attachRationale(ctx, &eval, verdict.Rationale, cfg.RationaleInlineLimit)

	case model.MethodHuman:
		eval.Status = model.EvaluationAwaitingReview
		pending := make([]model.KeyPointResult, 0, len(rubric.KeyPoints))
		for _, kp := range rubric.KeyPoints {
			pending = append(pending, model.KeyPointResult{
				KeyPointID: kp.ID,
				PointOrder: kp.Order,
				PointType:  string(kp.Type),
				Weight:     kp.Weight,
			})
		}
		eval.KeyPointsEvaluation = datatypes.NewJSONType(pending)

	default:
		return eval, fmt.Errorf("unsupported evaluation method %q", batch.EvaluationMethod)
	}
	return eval, nil
}

// attachRationale 超过内联上限的理由写入对象存储
func (s *EvaluationBatchService) attachRationale(ctx context.Context, eval *model.Evaluation, rationale string, limit int) {
	if rationale == "" {
		return
	}
	if len(rationale) <= limit || s.Storage == nil {
		eval.Comments = truncate(rationale, limit)
		return
	}
	ref, err := s.Storage.SaveRationale(ctx, eval.BatchID, rationale)
	if err != nil {
		logger.Log.Warn("保存评测理由失败，截断后内联保存", zap.Uint("batchId", eval.BatchID), zap.Error(err))
		eval.Comments = truncate(rationale, limit)
		return
	}
	eval.RationaleRef = ref
	eval.Comments = truncate(rationale, 200)
}

func applyResult(eval *model.Evaluation, res scoring.Result) {
	score := res.Score
	eval.Status = model.EvaluationScored
	eval.Score = &score
	eval.RequiredMissing = res.RequiredMissing
	eval.KeyPointsEvaluation = datatypes.NewJSONType(keyPointResults(res))
}

func keyPointResults(res scoring.Result) []model.KeyPointResult {
	out := make([]model.KeyPointResult, 0, len(res.Verdicts))
	for _, v := range res.Verdicts {
		out = append(out, model.KeyPointResult{
			KeyPointID: v.KeyPoint.ID,
			PointOrder: v.KeyPoint.Order,
			PointType:  string(v.KeyPoint.Type),
			Weight:     v.KeyPoint.Weight,
			Matched:    v.Matched,
			Similarity: v.Similarity,
			Note:       v.Note,
		})
	}
	return out
}

// summarize 由协调者汇总本轮所有单元结果
func summarize(outcomes []unitOutcome, threshold float64, plan *runPlan) model.BatchMetrics {
	m := model.BatchMetrics{
		PassingThreshold:    threshold,
		TotalQuestions:      plan.TotalQuestions,
		UnansweredCount:     plan.Unanswered,
		UnscoredQuestionIDs: append([]uint{}, plan.Unscored...),
	}
	sort.Slice(m.UnscoredQuestionIDs, func(i, j int) bool { return m.UnscoredQuestionIDs[i] < m.UnscoredQuestionIDs[j] })

	var total float64
	for _, out := range outcomes {
		e := out.Evaluation
		switch e.Status {
		case model.EvaluationScored:
			if e.Score == nil {
				continue
			}
			m.ScoredCount++
			total += *e.Score
			if *e.Score >= threshold {
				m.PassingCount++
			}
			if e.RequiredMissing {
				m.RequiredMissingCount++
			}
		case model.EvaluationAwaitingReview:
			m.AwaitingReviewCount++
		case model.EvaluationFailed:
			m.FailedCount++
		}
	}
	if m.ScoredCount > 0 {
		m.AverageScore = total / float64(m.ScoredCount)
	}
	return m
}

func (s *EvaluationBatchService) finish(id uint, status model.BatchStatus, metrics model.BatchMetrics, reason string) error {
	now := time.Now()
	metrics.CompletedAt = &now
	ok, err := s.BatchRepo.TransitionStatus(id, []model.BatchStatus{model.BatchInProgress}, status, map[string]interface{}{
		"end_time":        &now,
		"failure_reason":  reason,
		"metrics_summary": datatypes.NewJSONType(metrics),
	})
	if err != nil {
		return err
	}
	if !ok {
		logger.Log.Warn("批次状态已被其他操作修改，忽略本次汇总", zap.Uint("batchId", id))
		return nil
	}
	monitoring.BatchRuns.WithLabelValues(string(status)).Inc()
	invalidateBatchStats(s.Cache, id)
	return nil
}

func (s *EvaluationBatchService) finishFailed(batch *model.EvaluationBatch, reason string) {
	metrics := model.BatchMetrics{PassingThreshold: batch.PassingThreshold, UnscoredQuestionIDs: []uint{}}
	if err := s.finish(batch.ID, model.BatchFailed, metrics, reason); err != nil {
		logger.Log.Error("写入批次失败状态出错", zap.Uint("batchId", batch.ID), zap.Error(err))
		return
	}
	s.Progress.Publish(ProgressEvent{Type: ProgressFinished, BatchID: batch.ID, Status: model.BatchFailed, Metrics: &metrics, Reason: reason})
}

// keyedMutex 按评测单元键互斥
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
