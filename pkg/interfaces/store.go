package interfaces

import (
	"context"

	"coachwire/pkg/types"
)

// SessionStore is the durable record of sessions and their turn logs.
// The core treats it as an append log keyed by session ID; drivers live in
// internal/store and are selected by configuration.
type SessionStore interface {
	CreateSession(ctx context.Context, session *types.Session) error
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	// UpdateSession persists status, completed_at and abort_reason changes.
	UpdateSession(ctx context.Context, session *types.Session) error
	ListActiveSessions(ctx context.Context) ([]*types.Session, error)

	// AppendTurn records a finished turn. The turn log is append-only.
	AppendTurn(ctx context.Context, turn *types.Turn) error
	GetTurnLog(ctx context.Context, sessionID string) ([]*types.Turn, error)

	SaveAssessment(ctx context.Context, assessment *types.Assessment) error
	GetAssessment(ctx context.Context, sessionID string) (*types.Assessment, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
