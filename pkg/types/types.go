package types

import (
	"time"
)

// Session kinds.
const (
	KindInterview = "interview"
	KindLesson    = "lesson"
)

// Session statuses.
const (
	StatusIdle      = "idle"
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
)

// Turn statuses.
const (
	TurnPending     = "pending"
	TurnCompleted   = "completed"
	TurnInterrupted = "interrupted"
	TurnFailed      = "failed"
)

// SessionConfig holds the coaching setup supplied at session start.
// Interview sessions use JobDescription, InterviewerType and Voice;
// lesson sessions use Topic and Questions.
type SessionConfig struct {
	JobDescription  string   `json:"job_description,omitempty"`
	InterviewerType string   `json:"interviewer_type,omitempty"`
	Voice           string   `json:"voice,omitempty"`
	Topic           string   `json:"topic,omitempty"`
	Questions       []string `json:"questions,omitempty"`
}

// Session represents one coached interaction from start to completion/abort.
// Immutable after creation except for status, completed_at and abort_reason;
// the owning state machine is the only writer.
type Session struct {
	ID          string        `json:"id" db:"id"`
	Kind        string        `json:"kind" db:"kind"`
	OwnerUserID string        `json:"owner_user_id" db:"owner_user_id"`
	Config      SessionConfig `json:"config" db:"config"`
	StartedAt   time.Time     `json:"started_at" db:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	Status      string        `json:"status" db:"status"`
	AbortReason string        `json:"abort_reason,omitempty" db:"abort_reason"`
}

// Terminal reports whether the session accepts no further transitions.
func (s *Session) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusAborted
}

// Analysis is the structured evaluation of a lesson response.
type Analysis struct {
	Correctness     int      `json:"correctness"`
	KeyPointsMissed []string `json:"key_points_missed"`
	Suggestions     []string `json:"suggestions"`
	Confidence      int      `json:"confidence_score"`
}

// Turn is one user-input / system-output exchange within a session.
// Sequence numbers are monotonic per session and assigned by the machine.
type Turn struct {
	SessionID    string    `json:"session_id" db:"session_id"`
	Sequence     int       `json:"sequence" db:"sequence"`
	UserInput    string    `json:"user_input" db:"user_input"`
	SystemOutput string    `json:"system_output" db:"system_output"`
	AudioSize    int       `json:"audio_size" db:"audio_size"`
	Analysis     *Analysis `json:"analysis,omitempty" db:"analysis"`
	Status       string    `json:"status" db:"status"`
	StartedAt    time.Time `json:"started_at" db:"started_at"`
	FinishedAt   time.Time `json:"finished_at" db:"finished_at"`
}

// Assessment is the post-interview evaluation produced from the transcript.
type Assessment struct {
	SessionID        string    `json:"session_id" db:"session_id"`
	DomainExpertise  int       `json:"domain_expertise" db:"domain_expertise"`
	Communication    int       `json:"communication" db:"communication"`
	CultureFit       int       `json:"culture_fit" db:"culture_fit"`
	ProblemSolving   int       `json:"problem_solving" db:"problem_solving"`
	SelfAwareness    int       `json:"self_awareness" db:"self_awareness"`
	OverallScore     int       `json:"overall_score" db:"overall_score"`
	Feedback         string    `json:"feedback" db:"feedback"`
	Strengths        []string  `json:"strengths" db:"strengths"`
	ImprovementAreas []string  `json:"improvement_areas" db:"improvement_areas"`
	Recommendations  []string  `json:"recommendations" db:"recommendations"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}
