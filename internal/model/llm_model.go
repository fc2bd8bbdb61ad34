package model

import "gorm.io/datatypes"

// swagger:model LlmModel
type LlmModel struct {
	BaseModel
	Name        string         `gorm:"size:100;not null;uniqueIndex:idx_model_name_version" json:"name"`
	Version     string         `gorm:"size:50;not null;uniqueIndex:idx_model_name_version" json:"version"`
	Provider    string         `gorm:"size:50" json:"provider"`
	Description string         `gorm:"type:text" json:"description"`
	APIConfig   datatypes.JSON `json:"apiConfig,omitempty"`
}

func (LlmModel) TableName() string {
	return "llm_models"
}

// swagger:model LlmAnswer
type LlmAnswer struct {
	BaseModel
	ModelID          uint   `gorm:"index;not null" json:"modelId"`
	QuestionID       uint   `gorm:"index;not null" json:"questionId"`
	DatasetVersionID uint   `gorm:"index;not null" json:"datasetVersionId"`
	Content          string `gorm:"type:text;not null" json:"content"`
	LatencyMs        int    `json:"latencyMs"`
	TokensUsed       int    `json:"tokensUsed"`
	RetryCount       int    `json:"retryCount"`
	IsFinal          bool   `gorm:"not null;default:true" json:"isFinal"`
}

func (LlmAnswer) TableName() string {
	return "llm_answers"
}
