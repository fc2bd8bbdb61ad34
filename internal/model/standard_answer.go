package model

import "time"

type SourceType string

const (
	SourceRaw          SourceType = "raw"
	SourceCrowdsourced SourceType = "crowdsourced"
	SourceExpert       SourceType = "expert"
	SourceManual       SourceType = "manual"
)

func (s SourceType) Valid() bool {
	switch s {
	case SourceRaw, SourceCrowdsourced, SourceExpert, SourceManual:
		return true
	}
	return false
}

// swagger:model StandardAnswer
type StandardAnswer struct {
	BaseModel
	QuestionID      uint             `gorm:"index;not null" json:"questionId"`
	Content         string           `gorm:"type:text;not null" json:"content"`
	SourceType      SourceType       `gorm:"size:20;not null;default:'manual'" json:"sourceType"`
	SourceRef       string           `gorm:"size:64;index" json:"sourceRef,omitempty"`
	SelectionReason string           `gorm:"type:text" json:"selectionReason,omitempty"`
	SelectedBy      *uint            `json:"selectedBy,omitempty"`
	IsFinal         bool             `gorm:"not null;default:false;index" json:"isFinal"`
	Version         int              `gorm:"not null;default:1" json:"version"`
	KeyPoints       []AnswerKeyPoint `gorm:"foreignKey:AnswerID" json:"keyPoints,omitempty"`
}

func (StandardAnswer) TableName() string {
	return "standard_answers"
}

type PointType string

const (
	PointRequired PointType = "required"
	PointBonus    PointType = "bonus"
	PointPenalty  PointType = "penalty"
)

func (p PointType) Valid() bool {
	switch p {
	case PointRequired, PointBonus, PointPenalty:
		return true
	}
	return false
}

// swagger:model AnswerKeyPoint
type AnswerKeyPoint struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	AnswerID    uint      `gorm:"not null;uniqueIndex:idx_answer_point_order" json:"answerId"`
	PointText   string    `gorm:"type:text;not null" json:"pointText"`
	PointOrder  int       `gorm:"not null;uniqueIndex:idx_answer_point_order" json:"pointOrder"`
	PointWeight float64   `gorm:"not null" json:"pointWeight"`
	PointType   PointType `gorm:"size:20;not null;default:'required'" json:"pointType"`
	ExampleText string    `gorm:"type:text" json:"exampleText,omitempty"`
}

func (AnswerKeyPoint) TableName() string {
	return "answer_key_points"
}

// FinalAnswer 每个问题的最终标准答案索引，主键保证唯一
type FinalAnswer struct {
	QuestionID uint      `gorm:"primaryKey;autoIncrement:false" json:"questionId"`
	AnswerID   uint      `gorm:"not null;index" json:"answerId"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (FinalAnswer) TableName() string {
	return "final_answers"
}
