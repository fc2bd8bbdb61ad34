package model

import (
	"strings"
	"time"
)

type TaskStatus string

const (
	TaskDraft     TaskStatus = "draft"
	TaskPublished TaskStatus = "published"
	TaskCompleted TaskStatus = "completed"
	TaskClosed    TaskStatus = "closed"
)

// 合法的任务状态迁移，终态没有出边
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskDraft:     {TaskPublished, TaskClosed},
	TaskPublished: {TaskCompleted, TaskClosed},
}

func (s TaskStatus) CanTransitionTo(target TaskStatus) bool {
	for _, t := range taskTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskClosed
}

// ParseTaskStatus 兼容旧客户端使用的 ongoing / cancelled
func ParseTaskStatus(raw string) (TaskStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "draft":
		return TaskDraft, true
	case "published", "ongoing":
		return TaskPublished, true
	case "completed":
		return TaskCompleted, true
	case "closed", "cancelled", "canceled":
		return TaskClosed, true
	}
	return "", false
}

type TaskType string

const (
	TaskAnswerCollection TaskType = "answer_collection"
	TaskAnswerReview     TaskType = "answer_review"
	TaskAnswerRating     TaskType = "answer_rating"
)

func (t TaskType) Valid() bool {
	switch t {
	case TaskAnswerCollection, TaskAnswerReview, TaskAnswerRating:
		return true
	}
	return false
}

type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// swagger:model CrowdsourcingTask
type CrowdsourcingTask struct {
	BaseModel
	Title                 string     `gorm:"size:255;not null" json:"title"`
	Description           string     `gorm:"type:text" json:"description"`
	TaskType              TaskType   `gorm:"size:30;not null;default:'answer_collection'" json:"taskType"`
	CreatorID             uint       `gorm:"index" json:"creatorId"`
	MinAnswersPerQuestion int        `gorm:"not null;default:3" json:"minAnswersPerQuestion"`
	Status                TaskStatus `gorm:"size:20;not null;default:'draft';index" json:"status"`
	StartTime             *time.Time `json:"startTime,omitempty"`
	EndTime               *time.Time `json:"endTime,omitempty"`
	PublishedAt           *time.Time `json:"publishedAt,omitempty"`
	CompletedAt           *time.Time `json:"completedAt,omitempty"`
}

func (CrowdsourcingTask) TableName() string {
	return "crowdsourcing_tasks"
}

// Open 任务已发布且当前时间位于收集窗口内
func (t *CrowdsourcingTask) Open(now time.Time) bool {
	if t.Status != TaskPublished {
		return false
	}
	if t.StartTime != nil && now.Before(*t.StartTime) {
		return false
	}
	if t.EndTime != nil && now.After(*t.EndTime) {
		return false
	}
	return true
}

// CrowdsourcingTaskQuestion 任务关联的问题
type CrowdsourcingTaskQuestion struct {
	TaskID     uint      `gorm:"primaryKey;autoIncrement:false" json:"taskId"`
	QuestionID uint      `gorm:"primaryKey;autoIncrement:false;index" json:"questionId"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (CrowdsourcingTaskQuestion) TableName() string {
	return "crowdsourcing_task_questions"
}

// swagger:model CrowdsourcingAnswer
type CrowdsourcingAnswer struct {
	BaseModel
	TaskID                   uint         `gorm:"index;not null" json:"taskId"`
	QuestionID               uint         `gorm:"index;not null" json:"questionId"`
	UserID                   *uint        `gorm:"index" json:"userId,omitempty"`
	ContributorName          string       `gorm:"size:100" json:"contributorName,omitempty"`
	ContributorEmail         string       `gorm:"size:255" json:"contributorEmail,omitempty"`
	AnswerText               string       `gorm:"type:text;not null" json:"answerText"`
	ReviewStatus             ReviewStatus `gorm:"size:20;not null;default:'pending';index" json:"reviewStatus"`
	ReviewComment            string       `gorm:"type:text" json:"reviewComment,omitempty"`
	ReviewerID               *uint        `json:"reviewerId,omitempty"`
	ReviewedAt               *time.Time   `json:"reviewedAt,omitempty"`
	QualityScore             *int         `json:"qualityScore,omitempty"`
	IsSelected               bool         `gorm:"not null;default:false" json:"isSelected"`
	SelectedStandardAnswerID *uint        `json:"selectedStandardAnswerId,omitempty"`
}

func (CrowdsourcingAnswer) TableName() string {
	return "crowdsourcing_answers"
}
