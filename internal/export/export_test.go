package export

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/autograder/constants"
	"github.com/joseph-ayodele/autograder/internal/entity"
)

var ts = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

func scoreRecord(q int, score float64) entity.ScoreRecord {
	return entity.ScoreRecord{
		RunID: "run-1", QuestionIndex: q, FinalScore: score, Itemized: []float64{score - 1, 1},
		Provenance: constants.ProvenanceSingle, Backend: "API 1", AnswerSummary: "答案", ScoringBasis: "依据",
		RawResponse: "{}", ProcessTrace: "no processing", Timestamp: ts,
	}
}

func TestXLSXRecorderAppendsAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out", "grades.xlsx")

	rec, err := NewXLSXRecorder(path, nil)
	require.NoError(t, err)
	require.NoError(t, rec.RecordScore(ctx, scoreRecord(1, 7.5)))
	require.NoError(t, rec.RecordSummary(ctx, entity.SummaryRecord{RunID: "run-1", Status: "completed", Timestamp: ts}))
	require.NoError(t, rec.Close())

	rec, err = NewXLSXRecorder(path, nil)
	require.NoError(t, err)
	dual := scoreRecord(2, 6)
	dual.Provenance = constants.ProvenanceDual
	dual.Dual = &entity.DualDetail{FirstScore: 5, SecondScore: 7, Difference: 2}
	require.NoError(t, rec.RecordScore(ctx, dual))
	require.NoError(t, rec.Close())

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(DetailSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, detailHeaders[0], rows[0][0])
	assert.Equal(t, "7.5", rows[1][3])
	assert.Equal(t, "6.5, 1", rows[1][4])
	assert.Equal(t, "单评", rows[1][5])
	assert.Equal(t, "双评", rows[2][5])
	assert.Equal(t, "7", rows[2][10])

	sums, err := f.GetRows(SummarySheet)
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, "completed", sums[1][2])
}

type fakeRecords struct {
	scores    []entity.ScoreRecord
	summaries []entity.SummaryRecord
	runID     string
}

func (f *fakeRecords) RecordScore(context.Context, entity.ScoreRecord) error     { return nil }
func (f *fakeRecords) RecordSummary(context.Context, entity.SummaryRecord) error { return nil }
func (f *fakeRecords) ListScores(_ context.Context, runID string) ([]entity.ScoreRecord, error) {
	f.runID = runID
	return f.scores, nil
}
func (f *fakeRecords) ListSummaries(context.Context, string) ([]entity.SummaryRecord, error) {
	return f.summaries, nil
}

func TestServiceExportRunXLSX(t *testing.T) {
	t.Parallel()

	repo := &fakeRecords{
		scores: []entity.ScoreRecord{scoreRecord(1, 8), scoreRecord(2, 4)},
		summaries: []entity.SummaryRecord{{
			RunID: "run-1", Status: "completed", Elapsed: 95 * time.Second,
			DualEvaluation: true, ScoreDiffThreshold: 5, Timestamp: ts,
		}},
	}
	out, err := NewService(repo, nil).ExportRunXLSX(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", repo.runID)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(DetailSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	sums, err := f.GetRows(SummarySheet)
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, "95.0", sums[1][8])
	assert.Equal(t, "是", sums[1][9])
	assert.Equal(t, "5", sums[1][10])
}

func TestTruncateCountsRunes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "评分…", truncate("评分依据", 3))
	assert.Equal(t, "评分", truncate("评分", 3))
	assert.Equal(t, "评", truncate("评分", 1))
}
