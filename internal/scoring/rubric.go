// Package scoring 按加权得分点给模型回答打分。纯函数，无 I/O，相同输入结果相同
package scoring

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// PointType 得分点类型
type PointType string

const (
	// 必答点，未命中时分数封顶
	Required PointType = "required"
	// 加分点
	Bonus PointType = "bonus"
	// 扣分点，命中时扣除权重
	Penalty PointType = "penalty"
)

var ErrInvalidRubric = errors.New("invalid rubric")

// KeyPoint 单个得分点
type KeyPoint struct {
	// 隐式得分点为 0
	ID uint `json:"id"`
	// 评分标准内唯一
	Order   int       `json:"order" validate:"min=0"`
	Text    string    `json:"text" validate:"required"`
	Example string    `json:"example,omitempty"`
	Weight  float64   `json:"weight" validate:"min=0"`
	Type    PointType `json:"type" validate:"required,oneof=required bonus penalty"`
}

// Rubric 一条标准答案的得分点集合
type Rubric struct {
	KeyPoints []KeyPoint `json:"keyPoints" validate:"dive"`
	// 由参考答案正文推导
	Implicit bool `json:"implicit"`
}

// Validate 序号唯一，必答点权重必须为正
func (r Rubric) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRubric, err)
	}
	seen := make(map[int]struct{}, len(r.KeyPoints))
	for _, kp := range r.KeyPoints {
		if _, dup := seen[kp.Order]; dup {
			return fmt.Errorf("%w: duplicate point order %d", ErrInvalidRubric, kp.Order)
		}
		seen[kp.Order] = struct{}{}
		if kp.Type == Required && kp.Weight <= 0 {
			return fmt.Errorf("%w: required point %d must have a positive weight", ErrInvalidRubric, kp.Order)
		}
	}
	return nil
}

// Sorted 按序号升序的副本
func (r Rubric) Sorted() Rubric {
	kps := make([]KeyPoint, len(r.KeyPoints))
	copy(kps, r.KeyPoints)
	sort.SliceStable(kps, func(i, j int) bool { return kps[i].Order < kps[j].Order })
	return Rubric{KeyPoints: kps, Implicit: r.Implicit}
}

// ImplicitRubric 没有显式得分点时，参考答案每个非空段落作为权重 1 的必答点
func ImplicitRubric(reference string) Rubric {
	normalized := strings.ReplaceAll(reference, "\r\n", "\n")
	var kps []KeyPoint
	for _, para := range strings.Split(normalized, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		kps = append(kps, KeyPoint{
			Order:  len(kps) + 1,
			Text:   para,
			Weight: 1,
			Type:   Required,
		})
	}
	return Rubric{KeyPoints: kps, Implicit: true}
}

func RubricOrImplicit(keyPoints []KeyPoint, reference string) Rubric {
	if len(keyPoints) > 0 {
		return Rubric{KeyPoints: keyPoints}.Sorted()
	}
	return ImplicitRubric(reference)
}
