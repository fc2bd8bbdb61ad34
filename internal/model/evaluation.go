package model

import (
	"time"

	"gorm.io/datatypes"
)

type EvaluationMethod string

const (
	MethodHuman      EvaluationMethod = "human"
	MethodAuto       EvaluationMethod = "auto"
	MethodJudgeModel EvaluationMethod = "judge_model"
)

func (m EvaluationMethod) Valid() bool {
	switch m {
	case MethodHuman, MethodAuto, MethodJudgeModel:
		return true
	}
	return false
}

type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchInProgress BatchStatus = "in_progress"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchPending:    {BatchInProgress},
	BatchInProgress: {BatchCompleted, BatchFailed},
	// 管理员重置，用于重新执行
	BatchCompleted: {BatchPending},
	BatchFailed:    {BatchPending},
}

func (s BatchStatus) CanTransitionTo(target BatchStatus) bool {
	for _, t := range batchTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// BatchMetrics 批次汇总指标，只由调度协调者写入
type BatchMetrics struct {
	AverageScore         float64    `json:"averageScore"`
	PassingThreshold     float64    `json:"passingThreshold"`
	PassingCount         int        `json:"passingCount"`
	ScoredCount          int        `json:"scoredCount"`
	FailedCount          int        `json:"failedCount"`
	AwaitingReviewCount  int        `json:"awaitingReviewCount"`
	RequiredMissingCount int        `json:"requiredMissingCount"`
	TotalQuestions       int        `json:"totalQuestions"`
	UnansweredCount      int        `json:"unansweredCount"`
	UnscoredQuestionIDs  []uint     `json:"unscoredQuestionIds"`
	CompletedAt          *time.Time `json:"completedAt,omitempty"`
}

// swagger:model EvaluationBatch
type EvaluationBatch struct {
	BaseModel
	Name             string                           `gorm:"size:255;not null" json:"name"`
	Description      string                           `gorm:"type:text" json:"description"`
	ModelID          uint                             `gorm:"index;not null" json:"modelId"`
	JudgeModelID     *uint                            `json:"judgeModelId,omitempty"`
	DatasetVersionID uint                             `gorm:"index;not null" json:"datasetVersionId"`
	EvaluationMethod EvaluationMethod                 `gorm:"size:20;not null;default:'auto'" json:"evaluationMethod"`
	Status           BatchStatus                      `gorm:"size:20;not null;default:'pending';index" json:"status"`
	PassingThreshold float64                          `gorm:"not null;default:0.6" json:"passingThreshold"`
	StartTime        *time.Time                       `json:"startTime,omitempty"`
	EndTime          *time.Time                       `json:"endTime,omitempty"`
	FailureReason    string                           `gorm:"type:text" json:"failureReason,omitempty"`
	MetricsSummary   datatypes.JSONType[BatchMetrics] `json:"metricsSummary"`
	RunCount         int                              `gorm:"not null;default:0" json:"runCount"`
	CreatedBy        uint                             `json:"createdBy"`
}

func (EvaluationBatch) TableName() string {
	return "evaluation_batches"
}

type EvaluationStatus string

const (
	EvaluationScored         EvaluationStatus = "scored"
	EvaluationAwaitingReview EvaluationStatus = "awaiting_review"
	EvaluationFailed         EvaluationStatus = "failed"
)

// KeyPointResult 单个得分点的判定
type KeyPointResult struct {
	KeyPointID uint    `json:"keyPointId"`
	PointOrder int     `json:"pointOrder"`
	PointType  string  `json:"pointType"`
	Weight     float64 `json:"weight"`
	Matched    bool    `json:"matched"`
	Similarity float64 `json:"similarity,omitempty"`
	Note       string  `json:"note,omitempty"`
}

// swagger:model Evaluation
// (LlmAnswerID, StandardAnswerID, BatchID) 唯一
type Evaluation struct {
	ID                  uint                                 `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt           time.Time                            `json:"createdAt"`
	UpdatedAt           time.Time                            `json:"updatedAt"`
	BatchID             uint                                 `gorm:"not null;uniqueIndex:idx_evaluation_unit" json:"batchId"`
	LlmAnswerID         uint                                 `gorm:"not null;uniqueIndex:idx_evaluation_unit" json:"llmAnswerId"`
	StandardAnswerID    uint                                 `gorm:"not null;uniqueIndex:idx_evaluation_unit" json:"standardAnswerId"`
	QuestionID          uint                                 `gorm:"index;not null" json:"questionId"`
	Method              EvaluationMethod                     `gorm:"size:20;not null" json:"method"`
	Status              EvaluationStatus                     `gorm:"size:20;not null;index" json:"status"`
	Score               *float64                             `json:"score,omitempty"`
	RequiredMissing     bool                                 `gorm:"not null;default:false" json:"requiredMissing"`
	KeyPointsEvaluation datatypes.JSONType[[]KeyPointResult] `json:"keyPointsEvaluation"`
	Comments            string                               `gorm:"type:text" json:"comments,omitempty"`
	JudgeModelID        *uint                                `json:"judgeModelId,omitempty"`
	RationaleRef        string                               `gorm:"size:255" json:"rationaleRef,omitempty"`
	EvaluatorID         *uint                                `json:"evaluatorId,omitempty"`
	ErrorMessage        string                               `gorm:"type:text" json:"errorMessage,omitempty"`
	Attempts            int                                  `gorm:"not null;default:0" json:"attempts"`
}

func (Evaluation) TableName() string {
	return "evaluations"
}
