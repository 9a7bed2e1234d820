package assessment

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachwire/internal/config"
	"coachwire/internal/pipeline"
	"coachwire/internal/store"
	"coachwire/pkg/interfaces"
	"coachwire/pkg/types"
)

type stubGenerator struct {
	reply string
	err   error
	calls int
}

func (s *stubGenerator) Generate(context.Context, []interfaces.ChatMessage) (string, error) {
	s.calls++
	return s.reply, s.err
}

type stubSynthesizer struct{}

func (stubSynthesizer) Synthesize(context.Context, string, string) ([]byte, error) {
	return nil, nil
}

const goodAssessment = `{
	"domain_expertise": 82,
	"communication": 74,
	"culture_fit": 70,
	"problem_solving": 88,
	"self_awareness": 65,
	"overall_score": 76,
	"feedback": "Solid technical depth, answers could be more structured.",
	"strengths": ["deep Go knowledge"],
	"improvement_areas": ["structuring answers"],
	"recommendations": ["use the STAR method"]
}`

func setup(t *testing.T, gen *stubGenerator, status string, withTurns bool) (*Assessor, interfaces.SessionStore) {
	t.Helper()

	cfg := config.Default().Pipeline
	cfg.RetryDelay = 10 * time.Millisecond

	st := store.NewMemory()
	sess := &types.Session{
		ID:          "sess-1",
		Kind:        types.KindInterview,
		OwnerUserID: "owner-1",
		Config: types.SessionConfig{
			JobDescription:  "Senior Go engineer",
			InterviewerType: "technical",
		},
		StartedAt: time.Now(),
		Status:    status,
	}
	require.NoError(t, st.CreateSession(context.Background(), sess))

	if withTurns {
		for i := 0; i < 2; i++ {
			require.NoError(t, st.AppendTurn(context.Background(), &types.Turn{
				SessionID:    "sess-1",
				Sequence:     i,
				UserInput:    fmt.Sprintf("candidate answer %d", i),
				SystemOutput: fmt.Sprintf("interviewer question %d", i),
				Status:       types.TurnCompleted,
				StartedAt:    time.Now(),
				FinishedAt:   time.Now(),
			}))
		}
	}

	return New(pipeline.New(gen, stubSynthesizer{}, cfg), st), st
}

func TestGenerateAssessment(t *testing.T) {
	gen := &stubGenerator{reply: goodAssessment}
	assessor, st := setup(t, gen, types.StatusCompleted, true)

	a, err := assessor.Generate(context.Background(), "sess-1")
	require.NoError(t, err)

	assert.Equal(t, 82, a.DomainExpertise)
	assert.Equal(t, 76, a.OverallScore)
	assert.Equal(t, []string{"deep Go knowledge"}, a.Strengths)
	assert.False(t, a.CreatedAt.IsZero())

	stored, err := st.GetAssessment(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, a.OverallScore, stored.OverallScore)
}

func TestGenerateIsIdempotent(t *testing.T) {
	gen := &stubGenerator{reply: goodAssessment}
	assessor, _ := setup(t, gen, types.StatusCompleted, true)

	first, err := assessor.Generate(context.Background(), "sess-1")
	require.NoError(t, err)
	second, err := assessor.Generate(context.Background(), "sess-1")
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, 1, gen.calls)
}

func TestGenerateHandlesCodeFence(t *testing.T) {
	gen := &stubGenerator{reply: "```json\n" + goodAssessment + "\n```"}
	assessor, _ := setup(t, gen, types.StatusCompleted, true)

	a, err := assessor.Generate(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 88, a.ProblemSolving)
}

func TestGenerateRejectsIncompleteSession(t *testing.T) {
	gen := &stubGenerator{reply: goodAssessment}
	assessor, _ := setup(t, gen, types.StatusActive, true)

	_, err := assessor.Generate(context.Background(), "sess-1")
	assert.ErrorIs(t, err, ErrSessionNotCompleted)
	assert.Zero(t, gen.calls)
}

func TestGenerateRejectsLessonSession(t *testing.T) {
	cfg := config.Default().Pipeline
	st := store.NewMemory()
	require.NoError(t, st.CreateSession(context.Background(), &types.Session{
		ID:     "lesson-1",
		Kind:   types.KindLesson,
		Config: types.SessionConfig{Topic: "CAP"},
		Status: types.StatusCompleted,
	}))
	assessor := New(pipeline.New(&stubGenerator{}, stubSynthesizer{}, cfg), st)

	_, err := assessor.Generate(context.Background(), "lesson-1")
	assert.ErrorIs(t, err, ErrNotInterview)
}

func TestGenerateRejectsEmptyTranscript(t *testing.T) {
	gen := &stubGenerator{reply: goodAssessment}
	assessor, _ := setup(t, gen, types.StatusCompleted, false)

	_, err := assessor.Generate(context.Background(), "sess-1")
	assert.ErrorIs(t, err, ErrEmptyTranscript)
}

func TestGenerateMalformedResponse(t *testing.T) {
	gen := &stubGenerator{reply: "The candidate did well overall."}
	assessor, st := setup(t, gen, types.StatusCompleted, true)

	_, err := assessor.Generate(context.Background(), "sess-1")
	assert.ErrorIs(t, err, pipeline.ErrResponseMalformed)

	_, err = st.GetAssessment(context.Background(), "sess-1")
	assert.ErrorIs(t, err, interfaces.ErrAssessmentNotFound)
}

func TestGenerateRejectsOutOfRangeScores(t *testing.T) {
	gen := &stubGenerator{reply: `{"domain_expertise": 150, "overall_score": 90, "feedback": "x"}`}
	assessor, _ := setup(t, gen, types.StatusCompleted, true)

	_, err := assessor.Generate(context.Background(), "sess-1")
	assert.ErrorIs(t, err, pipeline.ErrResponseMalformed)
}

func TestGetMissingAssessment(t *testing.T) {
	assessor, _ := setup(t, &stubGenerator{}, types.StatusCompleted, true)

	_, err := assessor.Get(context.Background(), "sess-1")
	assert.ErrorIs(t, err, interfaces.ErrAssessmentNotFound)
}

func TestBuildTranscriptSkipsUnfinishedTurns(t *testing.T) {
	turns := []*types.Turn{
		{UserInput: "a1", SystemOutput: "q1", Status: types.TurnCompleted},
		{UserInput: "dropped", Status: types.TurnInterrupted},
		{UserInput: "a2", SystemOutput: "q2", Status: types.TurnCompleted},
	}
	transcript := buildTranscript(turns)
	assert.Contains(t, transcript, "q1")
	assert.Contains(t, transcript, "a2")
	assert.NotContains(t, transcript, "dropped")
}

// A turn records the candidate's input followed by the interviewer's reply,
// and the transcript keeps that order.
func TestBuildTranscriptOrdersSpeakersWithinTurn(t *testing.T) {
	turns := []*types.Turn{
		{UserInput: "I led the migration.", SystemOutput: "What was the hardest part?", Status: types.TurnCompleted},
	}
	transcript := buildTranscript(turns)
	assert.Equal(t, "Candidate: I led the migration.\nInterviewer: What was the hardest part?", transcript)
}
