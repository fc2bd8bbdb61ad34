package model

import "time"

// swagger:model DatasetVersion
type DatasetVersion struct {
	BaseModel
	Name          string     `gorm:"size:128;not null;uniqueIndex" json:"name"`
	Description   string     `gorm:"type:text" json:"description"`
	ReleaseDate   *time.Time `json:"releaseDate,omitempty"`
	IsPublished   bool       `gorm:"not null;default:false;index" json:"isPublished"`
	QuestionCount int        `gorm:"not null;default:0" json:"questionCount"`
	BaseVersionID *uint      `json:"baseVersionId,omitempty"`
	CreatedBy     uint       `json:"createdBy"`
}

func (DatasetVersion) TableName() string {
	return "dataset_versions"
}

// DatasetQuestion 数据集版本与问题的映射
type DatasetQuestion struct {
	DatasetVersionID uint      `gorm:"primaryKey;autoIncrement:false" json:"datasetVersionId"`
	QuestionID       uint      `gorm:"primaryKey;autoIncrement:false;index" json:"questionId"`
	CreatedAt        time.Time `json:"createdAt"`
}

func (DatasetQuestion) TableName() string {
	return "dataset_questions"
}
