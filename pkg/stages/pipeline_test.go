package stages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/tally/internal/adapters/memory"
	"github.com/aretw0/tally/internal/config"
	"github.com/aretw0/tally/internal/runtime"
	"github.com/aretw0/tally/pkg/domain"
)

func newPipelineEngine(t *testing.T, opts ...runtime.EngineOption) *runtime.Engine {
	t.Helper()
	g, err := BuildGraph(config.Default(), NopExporter{})
	require.NoError(t, err)
	return runtime.NewEngine(g, memory.New(), opts...)
}

func startEstimation(t *testing.T, eng *runtime.Engine, id string) runtime.Result {
	t.Helper()
	res, err := eng.Start(context.Background(), id, map[string]any{
		KeyDeliverables: testDeliverables(),
		KeyRequirements: "ECサイトの構築。クレジットカード決済、会員認証、商品検索、管理画面を含む。",
	})
	require.NoError(t, err)
	return res
}

// answerAll resumes a session awaiting clarification answers with the
// default answer for every open question.
func answerAll(t *testing.T, eng *runtime.Engine, res runtime.Result) runtime.Result {
	t.Helper()
	require.Equal(t, StageAnswers, res.AwaitingStage)

	var questions []Question
	require.NoError(t, domain.DecodeField(res.State, KeyQuestions, &questions))
	answers := map[string]any{}
	for _, q := range questions {
		answers[q.ID] = q.Default
	}

	next, err := eng.Resume(context.Background(), res.SessionID, map[string]any{
		domain.KeyAnswers: answers,
	})
	require.NoError(t, err)
	return next
}

func TestPipeline_FullRunToApproval(t *testing.T) {
	eng := newPipelineEngine(t)

	res := startEstimation(t, eng, "sess-full")
	require.True(t, res.Awaiting())
	assert.Equal(t, StageAnswers, res.AwaitingStage)
	assert.Equal(t, []string{domain.KeyAnswers}, res.RequiredFields)

	res = answerAll(t, eng, res)
	require.True(t, res.Awaiting())
	assert.Equal(t, StageApproval, res.AwaitingStage)
	assert.Equal(t, []string{domain.KeyApproved}, res.RequiredFields)
	assert.NotEmpty(t, domain.GetString(res.State, KeyReportMarkdown, ""))

	res, err := eng.Resume(context.Background(), "sess-full", map[string]any{
		domain.KeyApproved: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, res.Status)
	assert.Equal(t, "(not exported)", domain.GetString(res.State, domain.KeyFinalOutput, ""))
	assert.Equal(t, 0, domain.GetInt(res.State, domain.KeyIterationCount, -1))
}

func TestPipeline_EffortFeedbackRevisesEstimate(t *testing.T) {
	eng := newPipelineEngine(t)

	res := startEstimation(t, eng, "sess-revise")
	res = answerAll(t, eng, res)
	require.Equal(t, StageApproval, res.AwaitingStage)

	var before EffortSummary
	require.NoError(t, domain.DecodeField(res.State, KeyEffortSummary, &before))

	res, err := eng.Resume(context.Background(), "sess-revise", map[string]any{
		domain.KeyApproved:     false,
		domain.KeyUserFeedback: "工数を削減してください",
	})
	require.NoError(t, err)

	// The revision cycle re-enters at the estimator and runs back to the
	// approval point without re-asking the clarification questions.
	require.True(t, res.Awaiting())
	assert.Equal(t, StageApproval, res.AwaitingStage)
	assert.Equal(t, 1, domain.GetInt(res.State, domain.KeyIterationCount, -1))

	var after EffortSummary
	require.NoError(t, domain.DecodeField(res.State, KeyEffortSummary, &after))
	assert.Less(t, after.TotalEffortDays, before.TotalEffortDays)

	res, err = eng.Resume(context.Background(), "sess-revise", map[string]any{
		domain.KeyApproved: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, res.Status)
}

func TestPipeline_AssumptionFeedbackRestartsRun(t *testing.T) {
	eng := newPipelineEngine(t)

	res := startEstimation(t, eng, "sess-restart")
	res = answerAll(t, eng, res)
	require.Equal(t, StageApproval, res.AwaitingStage)

	res, err := eng.Resume(context.Background(), "sess-restart", map[string]any{
		domain.KeyApproved:     false,
		domain.KeyUserFeedback: "前提条件を見直してください",
	})
	require.NoError(t, err)

	// A full restart replays the pipeline from input processing; the
	// retained answers keep it from suspending at the clarification point
	// again.
	require.True(t, res.Awaiting())
	assert.Equal(t, StageApproval, res.AwaitingStage)
	assert.Equal(t, 1, domain.GetInt(res.State, domain.KeyIterationCount, -1))
}

func TestPipeline_EmptyFeedbackAutoApproves(t *testing.T) {
	eng := newPipelineEngine(t)

	res := startEstimation(t, eng, "sess-auto")
	res = answerAll(t, eng, res)

	res, err := eng.Resume(context.Background(), "sess-auto", map[string]any{
		domain.KeyApproved:     false,
		domain.KeyUserFeedback: "",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, res.Status)
	assert.True(t, domain.GetBool(res.State, domain.KeyApproved, false))
}

func TestPipeline_IterationCapStopsEndlessRevision(t *testing.T) {
	eng := newPipelineEngine(t, runtime.WithMaxIterations(2))

	res := startEstimation(t, eng, "sess-cap")
	res = answerAll(t, eng, res)

	reject := map[string]any{
		domain.KeyApproved:     false,
		domain.KeyUserFeedback: "工数を削減してください",
	}

	res, err := eng.Resume(context.Background(), "sess-cap", reject)
	require.NoError(t, err)
	require.Equal(t, StageApproval, res.AwaitingStage)

	res, err = eng.Resume(context.Background(), "sess-cap", reject)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Contains(t, domain.GetString(res.State, domain.KeyError, ""), "maximum revision iterations")

	// The failure is persisted: a later resume reports it.
	res, err = eng.Resume(context.Background(), "sess-cap", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, res.Status)
}

func TestPipeline_SkipsClarificationWithoutQuestions(t *testing.T) {
	eng := newPipelineEngine(t)

	res, err := eng.Start(context.Background(), "sess-skip", map[string]any{
		KeyDeliverables: []Deliverable{
			{Name: "操作マニュアル", Description: "利用者向けマニュアルの作成"},
		},
		KeyRequirements: "社内向けの操作マニュアルを作成する。",
	})
	require.NoError(t, err)

	// Nothing was unclear, so the run goes straight to the approval point.
	require.True(t, res.Awaiting())
	assert.Equal(t, StageApproval, res.AwaitingStage)

	var questions []Question
	require.NoError(t, domain.DecodeField(res.State, KeyQuestions, &questions))
	assert.Empty(t, questions)
}
