package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"coachwire/internal/pipeline"
	"coachwire/internal/protocol"
	"coachwire/pkg/interfaces"
	"coachwire/pkg/types"
)

// State is the machine's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateActive
	StatePaused
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

const (
	persistTimeout = 5 * time.Second
	answerTimeout  = 60 * time.Second
)

// Machine owns all mutation of one session. Every transition and every
// result delivery happens under mu, so "at most one pending turn" is a
// structural invariant and a result computed before an interruption was
// acknowledged can never land: delivery re-checks the generation counter
// under the same lock that interruption bumped it under.
type Machine struct {
	mu sync.Mutex

	sess    *types.Session
	state   State
	turns   []*types.Turn
	nextSeq int

	pending       *types.Turn
	pendingCancel context.CancelFunc
	generation    uint64

	pipeline *pipeline.Pipeline
	store    interfaces.SessionStore
	emit     func(protocol.Outbound)
	log      *logrus.Entry
}

// NewMachine builds a machine in Idle for a stored session record.
// The registry is the only caller; emit fans events out to subscribers.
func NewMachine(sess *types.Session, pl *pipeline.Pipeline, store interfaces.SessionStore, emit func(protocol.Outbound)) *Machine {
	m := &Machine{
		sess:     sess,
		state:    StateIdle,
		pipeline: pl,
		store:    store,
		emit:     emit,
		log: logrus.WithFields(logrus.Fields{
			"component": "session",
			"session":   sess.ID,
			"kind":      sess.Kind,
		}),
	}
	// A session reconstructed from the store resumes where it left off.
	switch sess.Status {
	case types.StatusPaused:
		m.state = StatePaused
	case types.StatusCompleted:
		m.state = StateCompleted
	case types.StatusAborted:
		m.state = StateAborted
	}
	return m
}

// LoadTurnLog primes the in-memory log from the store, once, before the
// machine serves traffic. Sequence numbering continues from the stored log.
func (m *Machine) LoadTurnLog(ctx context.Context) error {
	turns, err := m.store.GetTurnLog(ctx, m.sess.ID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = turns
	for _, t := range turns {
		if t.Sequence >= m.nextSeq {
			m.nextSeq = t.Sequence + 1
		}
	}
	return nil
}

// OwnerUserID reports the user allowed to drive this session.
func (m *Machine) OwnerUserID() string {
	return m.sess.OwnerUserID
}

// State returns the current lifecycle position.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a copy of the session record.
func (m *Machine) Session() types.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.sess
}

// TurnLog returns a copy of the finished-turn log.
func (m *Machine) TurnLog() []*types.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

// Start moves Idle to Active. A second start is rejected; the config
// override, when present, replaces the stored configuration before any
// turn can observe it.
func (m *Machine) Start(cfg *types.SessionConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateCompleted, StateAborted:
		return ErrSessionTerminal
	case StateActive, StatePaused:
		return ErrAlreadyStarted
	}

	if cfg != nil {
		if err := cfg.Validate(m.sess.Kind); err != nil {
			return err
		}
		m.sess.Config = *cfg
	}

	m.state = StateActive
	m.sess.Status = types.StatusActive
	m.persistSessionLocked()

	m.log.Info("session started")
	m.emit(protocol.SessionStarted{SessionID: m.sess.ID})
	return nil
}

// SubmitTurn accepts a user turn if the session is Active and no turn is
// pending, then runs the pipeline asynchronously. The returned error covers
// admission only; outcomes arrive as events.
func (m *Machine) SubmitTurn(input string) error {
	if err := types.ValidateInput(input); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateCompleted, StateAborted:
		return ErrSessionTerminal
	case StateIdle, StatePaused:
		return ErrSessionNotActive
	}
	if m.pending != nil {
		return ErrTurnInProgress
	}

	turn := &types.Turn{
		SessionID: m.sess.ID,
		Sequence:  m.nextSeq,
		UserInput: input,
		Status:    types.TurnPending,
		StartedAt: time.Now(),
	}
	m.nextSeq++
	m.pending = turn

	// The turn context is detached from any connection: an owner
	// disconnecting mid-turn must not cancel the pipeline call.
	turnCtx, cancel := context.WithCancel(context.Background())
	m.pendingCancel = cancel
	gen := m.generation

	prior := make([]*types.Turn, len(m.turns))
	copy(prior, m.turns)

	m.log.WithField("turn", turn.Sequence).Info("turn submitted")
	go m.runTurn(turnCtx, gen, turn, prior)
	return nil
}

// runTurn executes the pipeline phases for one turn. Text is delivered as
// soon as it is ready; audio follows after synthesis. Each delivery point
// re-validates the generation under the lock.
func (m *Machine) runTurn(ctx context.Context, gen uint64, turn *types.Turn, prior []*types.Turn) {
	result, err := m.pipeline.Respond(ctx, m.sess, prior, turn.UserInput)
	if err != nil {
		m.failTurn(gen, turn, err)
		return
	}

	if !m.deliverText(gen, turn, result.Text) {
		return
	}

	var audio []byte
	if voice := m.voice(); voice != "" {
		audio, err = m.pipeline.Synthesize(ctx, result.Text, voice)
		if err != nil {
			m.failTurn(gen, turn, err)
			return
		}
	}

	m.completeTurn(gen, turn, result, audio)
}

// voice returns the synthesis voice, defaulting for interviews; an empty
// voice on a lesson disables the audio phase.
func (m *Machine) voice() string {
	if m.sess.Config.Voice != "" {
		return m.sess.Config.Voice
	}
	if m.sess.Kind == types.KindInterview {
		return "male"
	}
	return ""
}

// deliverText emits turn_text if the turn is still the live one. A false
// return means the turn was interrupted or the session ended while the
// pipeline ran; the result is dropped without side effects.
func (m *Machine) deliverText(gen uint64, turn *types.Turn, text string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation || m.pending != turn {
		m.log.WithField("turn", turn.Sequence).Debug("stale text result dropped")
		return false
	}

	m.emit(protocol.TurnText{Sequence: turn.Sequence, Content: text})
	return true
}

func (m *Machine) completeTurn(gen uint64, turn *types.Turn, result *pipeline.TurnResult, audio []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation || m.pending != turn {
		m.log.WithField("turn", turn.Sequence).Debug("stale completion dropped")
		return
	}

	turn.SystemOutput = result.Text
	turn.Analysis = result.Analysis
	turn.AudioSize = len(audio)
	turn.Status = types.TurnCompleted
	turn.FinishedAt = time.Now()

	m.turns = append(m.turns, turn)
	m.pending = nil
	m.pendingCancel = nil

	if len(audio) > 0 {
		m.emit(protocol.TurnAudio{Sequence: turn.Sequence, Audio: audio})
	}
	m.emit(protocol.TurnComplete{Sequence: turn.Sequence, Analysis: turn.Analysis})

	m.persistTurnLocked(turn)
	m.log.WithField("turn", turn.Sequence).Info("turn completed")
}

func (m *Machine) failTurn(gen uint64, turn *types.Turn, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation || m.pending != turn {
		m.log.WithField("turn", turn.Sequence).Debug("stale failure dropped")
		return
	}

	turn.Status = types.TurnFailed
	turn.FinishedAt = time.Now()
	m.turns = append(m.turns, turn)
	m.pending = nil
	m.pendingCancel = nil

	reason := pipeline.Reason(cause)
	m.emit(protocol.TurnFailed{Sequence: turn.Sequence, Reason: reason})

	m.persistTurnLocked(turn)
	m.log.WithError(cause).WithFields(logrus.Fields{
		"turn":   turn.Sequence,
		"reason": reason,
	}).Warn("turn failed")
}

// Interrupt cancels the pending turn. The session returns to accepting new
// input; the stale pipeline result, whenever it arrives, is discarded by
// the generation check.
func (m *Machine) Interrupt() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateCompleted || m.state == StateAborted {
		return ErrSessionTerminal
	}
	if m.pending == nil {
		return ErrNoPendingTurn
	}

	turn := m.pending
	m.pendingCancel()
	m.pendingCancel = nil
	m.pending = nil
	m.generation++

	turn.Status = types.TurnInterrupted
	turn.FinishedAt = time.Now()
	m.turns = append(m.turns, turn)

	m.emit(protocol.Interrupted{Sequence: turn.Sequence})
	m.persistTurnLocked(turn)

	m.log.WithField("turn", turn.Sequence).Info("turn interrupted")
	return nil
}

// Pause suspends an Active session with no pending turn.
func (m *Machine) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateCompleted, StateAborted:
		return ErrSessionTerminal
	case StateIdle, StatePaused:
		return ErrSessionNotActive
	}
	if m.pending != nil {
		return ErrTurnPending
	}

	m.state = StatePaused
	m.sess.Status = types.StatusPaused
	m.persistSessionLocked()

	m.emit(protocol.Paused{})
	m.log.Info("session paused")
	return nil
}

// Resume returns a Paused session to Active. Nothing is replayed; the
// session is simply ready for the next turn.
func (m *Machine) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateCompleted, StateAborted:
		return ErrSessionTerminal
	case StateIdle, StateActive:
		return ErrSessionNotPaused
	}

	m.state = StateActive
	m.sess.Status = types.StatusActive
	m.persistSessionLocked()

	m.emit(protocol.Resumed{})
	m.log.Info("session resumed")
	return nil
}

// Complete finishes the session. Valid from Active or Paused with no turn
// pending; completed_at is set exactly once, here.
func (m *Machine) Complete() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateCompleted, StateAborted:
		return ErrSessionTerminal
	case StateIdle:
		return ErrSessionNotActive
	}
	if m.pending != nil {
		return ErrTurnPending
	}

	now := time.Now()
	m.state = StateCompleted
	m.sess.Status = types.StatusCompleted
	m.sess.CompletedAt = &now
	m.persistSessionLocked()

	m.emit(protocol.SessionEnded{Status: types.StatusCompleted})
	m.log.WithField("turns", len(m.turns)).Info("session completed")
	return nil
}

// Abort terminates the session from any non-terminal state, cancelling a
// pending turn if there is one.
func (m *Machine) Abort(reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateCompleted || m.state == StateAborted {
		return ErrSessionTerminal
	}

	if m.pending != nil {
		turn := m.pending
		m.pendingCancel()
		m.pendingCancel = nil
		m.pending = nil
		m.generation++

		turn.Status = types.TurnInterrupted
		turn.FinishedAt = time.Now()
		m.turns = append(m.turns, turn)
		m.persistTurnLocked(turn)
	}

	m.state = StateAborted
	m.sess.Status = types.StatusAborted
	m.sess.AbortReason = reason
	m.persistSessionLocked()

	m.emit(protocol.SessionEnded{Status: types.StatusAborted, Reason: reason})
	m.log.WithField("reason", reason).Warn("session aborted")
	return nil
}

// AnswerQuestion handles a clarifying question outside the turn log and
// delivers the answer to the asking connection only.
func (m *Machine) AnswerQuestion(question string, reply func(protocol.Outbound)) error {
	m.mu.Lock()
	if m.state == StateCompleted || m.state == StateAborted {
		m.mu.Unlock()
		return ErrSessionTerminal
	}
	sess := *m.sess
	m.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), answerTimeout)
		defer cancel()

		answer, err := m.pipeline.AnswerQuestion(ctx, &sess, question)
		if err != nil {
			m.log.WithError(err).Warn("question answering failed")
			reply(protocol.ProtocolError{Message: "failed to answer question"})
			return
		}
		reply(protocol.QuestionAnswer{Answer: answer})
	}()
	return nil
}

// Store write failures are logged, not fatal: the live session keeps going
// and the record catches up on the next write.
func (m *Machine) persistSessionLocked() {
	sess := *m.sess
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := m.store.UpdateSession(ctx, &sess); err != nil {
			m.log.WithError(err).Error("failed to persist session state")
		}
	}()
}

func (m *Machine) persistTurnLocked(turn *types.Turn) {
	t := *turn
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := m.store.AppendTurn(ctx, &t); err != nil {
			m.log.WithError(err).Error("failed to persist turn")
		}
	}()
}
