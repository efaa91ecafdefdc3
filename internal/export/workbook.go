package export

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/autograder/constants"
	"github.com/joseph-ayodele/autograder/internal/entity"
)

const (
	DetailSheet  = "评分明细"
	SummarySheet = "运行汇总"

	timeLayout = "2006-01-02 15:04:05"
)

var detailHeaders = []string{
	"记录时间",
	"运行ID",
	"题号",
	"最终得分",
	"分项得分",
	"评分方式",
	"接口",
	"学生答案摘要",
	"评分依据",
	"第一次评分",
	"第二次评分",
	"分差",
	"评分细则摘要",
	"处理过程",
	"原始回复",
}

var summaryHeaders = []string{
	"记录时间",
	"运行ID",
	"状态",
	"停止原因",
	"中断原因",
	"计划轮数",
	"每轮题数",
	"完成轮数",
	"耗时(秒)",
	"双评",
	"分差阈值",
	"第一模型",
	"第二模型",
	"单题模式",
}

// workbook wraps an excelize file with one detail and one summary sheet and
// tracks the next free row of each.
type workbook struct {
	f          *excelize.File
	detailRow  int
	summaryRow int
}

func newWorkbook() (*workbook, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", DetailSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return nil, err
	}
	activeIndex, _ := f.GetSheetIndex(DetailSheet)
	f.SetActiveSheet(activeIndex)

	writeHeaders(f, DetailSheet, detailHeaders)
	writeHeaders(f, SummarySheet, summaryHeaders)

	_ = f.SetColWidth(DetailSheet, "A", "B", 20)  // time, run
	_ = f.SetColWidth(DetailSheet, "C", "G", 10)  // scores
	_ = f.SetColWidth(DetailSheet, "H", "I", 48)  // summary, basis
	_ = f.SetColWidth(DetailSheet, "J", "L", 12)  // dual
	_ = f.SetColWidth(DetailSheet, "M", "N", 36)  // rubric, trace
	_ = f.SetColWidth(DetailSheet, "O", "O", 60)  // raw
	_ = f.SetColWidth(SummarySheet, "A", "B", 20) // time, run
	_ = f.SetColWidth(SummarySheet, "C", "D", 18)
	_ = f.SetColWidth(SummarySheet, "E", "E", 48)
	_ = f.SetColWidth(SummarySheet, "F", "N", 12)

	return &workbook{f: f, detailRow: 2, summaryRow: 2}, nil
}

func writeHeaders(f *excelize.File, sheet string, headers []string) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
}

func (w *workbook) writeRow(sheet string, row int, values []any) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := w.f.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}

func (w *workbook) addScore(rec entity.ScoreRecord) error {
	mode := "单评"
	var first, second, diff any = "", "", ""
	if rec.Provenance == constants.ProvenanceDual && rec.Dual != nil {
		mode = "双评"
		first, second, diff = rec.Dual.FirstScore, rec.Dual.SecondScore, rec.Dual.Difference
	}
	err := w.writeRow(DetailSheet, w.detailRow, []any{
		rec.Timestamp.Local().Format(timeLayout),
		rec.RunID,
		rec.QuestionIndex,
		rec.FinalScore,
		joinScores(rec.Itemized),
		mode,
		rec.Backend,
		truncate(rec.AnswerSummary, 500),
		truncate(rec.ScoringBasis, 500),
		first,
		second,
		diff,
		rec.RubricSummary,
		rec.ProcessTrace,
		truncate(rec.RawResponse, 2000),
	})
	if err != nil {
		return err
	}
	w.detailRow++
	return nil
}

func (w *workbook) addSummary(rec entity.SummaryRecord) error {
	var threshold any = ""
	if rec.DualEvaluation {
		threshold = rec.ScoreDiffThreshold
	}
	err := w.writeRow(SummarySheet, w.summaryRow, []any{
		rec.Timestamp.Local().Format(timeLayout),
		rec.RunID,
		rec.Status,
		rec.StopReason,
		truncate(rec.InterruptReason, 300),
		rec.TotalCycles,
		rec.QuestionsPerCycle,
		rec.CyclesCompleted,
		fmt.Sprintf("%.1f", rec.Elapsed.Seconds()),
		yesNo(rec.DualEvaluation),
		threshold,
		rec.FirstModelID,
		rec.SecondModelID,
		yesNo(rec.SingleQuestionPerRun),
	})
	if err != nil {
		return err
	}
	w.summaryRow++
	return nil
}

func joinScores(v []float64) string {
	parts := make([]string, len(v))
	for i, s := range v {
		parts[i] = fmt.Sprintf("%g", s)
	}
	return strings.Join(parts, ", ")
}

func yesNo(b bool) string {
	if b {
		return "是"
	}
	return "否"
}

// truncate shortens s to n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
