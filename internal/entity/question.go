package entity

import "github.com/joseph-ayodele/autograder/constants"

// Point is a screen coordinate.
type Point struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// IsZero reports whether the point was left unconfigured.
func (p Point) IsZero() bool { return p.X == 0 && p.Y == 0 }

// Rect is an answer area given by two opposite corners, in any order.
type Rect struct {
	X1 int `json:"x1" yaml:"x1"`
	Y1 int `json:"y1" yaml:"y1"`
	X2 int `json:"x2" yaml:"x2"`
	Y2 int `json:"y2" yaml:"y2"`
}

// Normalize returns the top-left corner and the absolute size of the area.
func (r Rect) Normalize() (x, y, width, height int) {
	x, y = min(r.X1, r.X2), min(r.Y1, r.Y2)
	width, height = abs(r.X2-r.X1), abs(r.Y2-r.Y1)
	return x, y, width, height
}

// IsEmpty reports whether the area has no surface.
func (r Rect) IsEmpty() bool {
	_, _, w, h := r.Normalize()
	return w == 0 || h == 0
}

// ThreeStepInputs are the three score boxes used when a single total is split
// across three entry fields.
type ThreeStepInputs struct {
	Step1 Point `json:"step1" yaml:"step1"`
	Step2 Point `json:"step2" yaml:"step2"`
	Step3 Point `json:"step3" yaml:"step3"`
}

// Complete reports whether all three input points are configured.
func (t *ThreeStepInputs) Complete() bool {
	return t != nil && !t.Step1.IsZero() && !t.Step2.IsZero() && !t.Step3.IsZero()
}

// QuestionConfig describes one gradable question. It is read-only during a run.
type QuestionConfig struct {
	Index         int                    `json:"index" yaml:"index"`
	AnswerArea    Rect                   `json:"answer_area" yaml:"answer_area"`
	ScoreInput    Point                  `json:"score_input" yaml:"score_input"`
	Confirm       Point                  `json:"confirm" yaml:"confirm"`
	Rubric        string                 `json:"rubric" yaml:"rubric"`
	QuestionType  constants.QuestionType `json:"question_type" yaml:"question_type"`
	MinScore      float64                `json:"min_score" yaml:"min_score"`
	MaxScore      float64                `json:"max_score" yaml:"max_score"`
	RoundingStep  float64                `json:"rounding_step" yaml:"rounding_step"`
	ThreeStep     *ThreeStepInputs       `json:"three_step,omitempty" yaml:"three_step,omitempty"`
	AnomalyButton *Point                 `json:"anomaly_button,omitempty" yaml:"anomaly_button,omitempty"`
}

// HasAnomalyButton reports whether anomalous papers can be skipped automatically.
func (q QuestionConfig) HasAnomalyButton() bool {
	return q.AnomalyButton != nil && !q.AnomalyButton.IsZero()
}

// RubricSummary returns the first n runes of the rubric for record headers.
func (q QuestionConfig) RubricSummary(n int) string {
	r := []rune(q.Rubric)
	if len(r) == 0 {
		return "未配置"
	}
	if len(r) <= n {
		return q.Rubric
	}
	return string(r[:n]) + "..."
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
