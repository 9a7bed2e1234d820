package assessment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"coachwire/internal/pipeline"
	"coachwire/pkg/interfaces"
	"coachwire/pkg/types"
)

// Assessor turns a completed interview transcript into a structured
// evaluation. Generation is idempotent per session: an existing assessment
// is returned as-is rather than regenerated.
type Assessor struct {
	pipeline *pipeline.Pipeline
	store    interfaces.SessionStore
	log      *logrus.Entry
}

func New(pl *pipeline.Pipeline, store interfaces.SessionStore) *Assessor {
	return &Assessor{
		pipeline: pl,
		store:    store,
		log:      logrus.WithField("component", "assessment"),
	}
}

type assessmentOutput struct {
	DomainExpertise  int      `json:"domain_expertise"`
	Communication    int      `json:"communication"`
	CultureFit       int      `json:"culture_fit"`
	ProblemSolving   int      `json:"problem_solving"`
	SelfAwareness    int      `json:"self_awareness"`
	OverallScore     int      `json:"overall_score"`
	Feedback         string   `json:"feedback"`
	Strengths        []string `json:"strengths"`
	ImprovementAreas []string `json:"improvement_areas"`
	Recommendations  []string `json:"recommendations"`
}

// Generate produces, validates and persists the assessment for a completed
// interview session.
func (a *Assessor) Generate(ctx context.Context, sessionID string) (*types.Assessment, error) {
	if existing, err := a.store.GetAssessment(ctx, sessionID); err == nil {
		return existing, nil
	} else if !errors.Is(err, interfaces.ErrAssessmentNotFound) {
		return nil, err
	}

	sess, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Kind != types.KindInterview {
		return nil, ErrNotInterview
	}
	if sess.Status != types.StatusCompleted {
		return nil, ErrSessionNotCompleted
	}

	turns, err := a.store.GetTurnLog(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	transcript := buildTranscript(turns)
	if transcript == "" {
		return nil, ErrEmptyTranscript
	}

	raw, err := a.pipeline.GenerateRaw(ctx, assessmentMessages(sess, transcript))
	if err != nil {
		return nil, err
	}

	var out assessmentOutput
	if err := json.Unmarshal([]byte(pipeline.StripCodeFence(raw)), &out); err != nil {
		return nil, fmt.Errorf("%w: assessment is not valid JSON: %v", pipeline.ErrResponseMalformed, err)
	}

	assessment := &types.Assessment{
		SessionID:        sessionID,
		DomainExpertise:  out.DomainExpertise,
		Communication:    out.Communication,
		CultureFit:       out.CultureFit,
		ProblemSolving:   out.ProblemSolving,
		SelfAwareness:    out.SelfAwareness,
		OverallScore:     out.OverallScore,
		Feedback:         out.Feedback,
		Strengths:        out.Strengths,
		ImprovementAreas: out.ImprovementAreas,
		Recommendations:  out.Recommendations,
		CreatedAt:        time.Now(),
	}
	if err := assessment.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrResponseMalformed, err)
	}

	if err := a.store.SaveAssessment(ctx, assessment); err != nil {
		return nil, err
	}

	a.log.WithFields(logrus.Fields{
		"session": sessionID,
		"score":   assessment.OverallScore,
	}).Info("assessment generated")
	return assessment, nil
}

// Get returns a previously generated assessment.
func (a *Assessor) Get(ctx context.Context, sessionID string) (*types.Assessment, error) {
	return a.store.GetAssessment(ctx, sessionID)
}

func buildTranscript(turns []*types.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		if t.Status != types.TurnCompleted {
			continue
		}
		fmt.Fprintf(&b, "Candidate: %s\nInterviewer: %s\n\n", t.UserInput, t.SystemOutput)
	}
	return strings.TrimSpace(b.String())
}

func assessmentMessages(sess *types.Session, transcript string) []interfaces.ChatMessage {
	system := fmt.Sprintf(
		"You are an expert interview assessor. Evaluate the candidate's performance in a %s interview for the following role:\n\n%s\n\n"+
			"Respond with a JSON object only, no prose, with these fields: "+
			`"domain_expertise", "communication", "culture_fit", "problem_solving", "self_awareness", "overall_score" `+
			"(integers from 0 to 100), "+
			`"feedback" (a paragraph), "strengths", "improvement_areas" and "recommendations" (arrays of strings).`,
		sess.Config.InterviewerType, sess.Config.JobDescription,
	)
	return []interfaces.ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: "Interview transcript:\n\n" + transcript},
	}
}
