package constants

import (
	"strings"
)

type QuestionType string

const (
	ObjectiveFillInTheBlank QuestionType = "Objective_FillInTheBlank"
	SubjectivePointBasedQA  QuestionType = "Subjective_PointBased_QA"
	FormulaProofStepBased   QuestionType = "Formula_Proof_StepBased"
	HolisticEvaluationOpen  QuestionType = "Holistic_Evaluation_Open"

	DefaultQuestionType = SubjectivePointBasedQA
)

var allQuestionTypes = []QuestionType{
	ObjectiveFillInTheBlank,
	SubjectivePointBasedQA,
	FormulaProofStepBased,
	HolisticEvaluationOpen,
}

func QuestionTypes() []string {
	result := make([]string, len(allQuestionTypes))
	for i, qt := range allQuestionTypes {
		result[i] = string(qt)
	}
	return result
}

// Canonicalize maps a configured question type (id or UI label) to its canonical id.
// Unknown or empty input yields DefaultQuestionType and false.
func Canonicalize(input string) (QuestionType, bool) {
	if strings.TrimSpace(input) == "" {
		return DefaultQuestionType, false
	}

	normalized := strings.ToLower(strings.TrimSpace(input))

	synonyms := map[string]QuestionType{
		"客观填空题":      ObjectiveFillInTheBlank,
		"填空题":        ObjectiveFillInTheBlank,
		"fill_in_the_blank": ObjectiveFillInTheBlank,
		"按点给分主观题":    SubjectivePointBasedQA,
		"主观题":        SubjectivePointBasedQA,
		"公式计算/证明题":   FormulaProofStepBased,
		"证明题":        FormulaProofStepBased,
		"整体评估开放题":    HolisticEvaluationOpen,
		"作文":         HolisticEvaluationOpen,
		"essay":      HolisticEvaluationOpen,
	}

	if qt, ok := synonyms[normalized]; ok {
		return qt, true
	}

	for _, qt := range allQuestionTypes {
		if normalized == strings.ToLower(string(qt)) {
			return qt, true
		}
	}

	return DefaultQuestionType, false
}

// IncludesEvidenceBar reports whether prompts for this type carry the evidence rules block.
func (q QuestionType) IncludesEvidenceBar() bool {
	return q != HolisticEvaluationOpen
}
