package model

type QuestionType string

const (
	QuestionSingleChoice   QuestionType = "single_choice"
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionSimpleFact     QuestionType = "simple_fact"
	QuestionSubjective     QuestionType = "subjective"
)

func (t QuestionType) Valid() bool {
	switch t {
	case QuestionSingleChoice, QuestionMultipleChoice, QuestionSimpleFact, QuestionSubjective:
		return true
	}
	return false
}

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

type QuestionStatus string

const (
	QuestionDraft         QuestionStatus = "draft"
	QuestionPendingReview QuestionStatus = "pending_review"
	QuestionApproved      QuestionStatus = "approved"
	QuestionRejected      QuestionStatus = "rejected"
)

func (s QuestionStatus) Valid() bool {
	switch s {
	case QuestionDraft, QuestionPendingReview, QuestionApproved, QuestionRejected:
		return true
	}
	return false
}

// swagger:model StandardQuestion
// 同一 OriginalID 下的版本链中只有一条 IsLatest = true
type StandardQuestion struct {
	BaseModel
	Content      string         `gorm:"type:text;not null" json:"content"`
	QuestionType QuestionType   `gorm:"size:30;not null;default:'subjective'" json:"questionType"`
	Difficulty   Difficulty     `gorm:"size:20;not null;default:'medium'" json:"difficulty"`
	Category     string         `gorm:"size:100;index" json:"category"`
	Tags         string         `gorm:"size:255" json:"tags"`
	Status       QuestionStatus `gorm:"size:20;not null;default:'draft'" json:"status"`
	Version      int            `gorm:"not null;default:1" json:"version"`
	ParentID     *uint          `gorm:"index" json:"parentId,omitempty"`
	OriginalID   *uint          `gorm:"index" json:"originalId,omitempty"`
	IsLatest     bool           `gorm:"not null;default:true;index" json:"isLatest"`
	CreatedBy    uint           `gorm:"index" json:"createdBy"`
}

func (StandardQuestion) TableName() string {
	return "standard_questions"
}

// ChainID 版本链的根ID
func (q *StandardQuestion) ChainID() uint {
	if q.OriginalID != nil {
		return *q.OriginalID
	}
	return q.ID
}
