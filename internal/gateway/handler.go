package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"coachwire/internal/config"
	"coachwire/internal/protocol"
	"coachwire/internal/registry"
	"coachwire/internal/session"
	"coachwire/pkg/interfaces"
	"coachwire/pkg/types"
)

// Handler upgrades /ws requests and pumps messages between one client and
// its session machine. Identity arrives as user_id and session_id query
// parameters, already authenticated upstream.
type Handler struct {
	registry *registry.Registry
	store    interfaces.SessionStore
	cfg      config.WebSocket
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

func NewHandler(reg *registry.Registry, store interfaces.SessionStore, cfg config.WebSocket) *Handler {
	return &Handler{
		registry: reg,
		store:    store,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: logrus.WithField("component", "gateway"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	sessionID := r.URL.Query().Get("session_id")

	if !types.IsValidUserID(userID) {
		http.Error(w, types.ErrInvalidUserID.Error(), http.StatusBadRequest)
		return
	}
	if sessionID == "" {
		http.Error(w, "Missing session_id", http.StatusBadRequest)
		return
	}

	// Reject unknown sessions before committing to the upgrade.
	if _, err := h.store.GetSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		h.log.WithError(err).Error("session lookup failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	conn := NewConnection(ws, userID, sessionID, h.cfg)

	machine, err := h.registry.Register(r.Context(), sessionID, conn)
	if err != nil {
		h.log.WithError(err).WithField("session", sessionID).Error("registration failed")
		conn.Close()
		return
	}

	log := h.log.WithFields(logrus.Fields{
		"user":    userID,
		"session": sessionID,
	})
	log.Info("connection established")

	defer func() {
		h.registry.Deregister(sessionID, conn)
		conn.Close()
		log.Info("connection closed")
	}()

	// A terminal session accepts the connection just long enough to report
	// why it ended, then closes it.
	if st := machine.State(); st == session.StateCompleted || st == session.StateAborted {
		sess := machine.Session()
		conn.Send(protocol.SessionEnded{Status: sess.Status, Reason: sess.AbortReason})
		conn.closeGracefully()
		return
	}

	h.readLoop(conn, machine, log)
}

// readLoop owns all reads for one connection; the ping ticker keeps the
// peer's read deadline fresh between client messages.
func (h *Handler) readLoop(conn *Connection, machine *session.Machine, log *logrus.Entry) {
	ws := conn.conn
	ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		return nil
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(h.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
				if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingDone:
				return
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Debug("unexpected close")
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			conn.Send(protocol.ProtocolError{Message: err.Error()})
			continue
		}

		h.dispatch(conn, machine, msg, log)
	}
}

// dispatch routes one decoded message. Control messages are owner-only;
// observers may only ask clarifying questions. Machine rejections come back
// on this connection alone, never broadcast.
func (h *Handler) dispatch(conn *Connection, machine *session.Machine, msg protocol.Inbound, log *logrus.Entry) {
	switch v := msg.(type) {
	case *protocol.ClientQuestion:
		if err := machine.AnswerQuestion(v.Question, func(ev protocol.Outbound) {
			conn.Send(ev)
		}); err != nil {
			h.reject(conn, err)
		}
		return
	}

	if conn.UserID() != machine.OwnerUserID() {
		conn.Send(protocol.ProtocolError{Message: ErrNotOwner.Error()})
		return
	}

	var err error
	switch v := msg.(type) {
	case *protocol.StartSession:
		// A kind on the wire is advisory; it must agree with the session
		// created over REST.
		if v.Kind != "" && v.Kind != machine.Session().Kind {
			conn.Send(protocol.ProtocolError{Message: "kind does not match session"})
			return
		}
		err = machine.Start(configOverride(v))
	case *protocol.UserTurn:
		err = machine.SubmitTurn(v.Content)
	case *protocol.Interrupt:
		err = machine.Interrupt()
	case *protocol.Pause:
		err = machine.Pause()
	case *protocol.Resume:
		err = machine.Resume()
	default:
		conn.Send(protocol.ProtocolError{Message: "unsupported message"})
		return
	}

	if err != nil {
		log.WithError(err).Debug("operation rejected")
		h.reject(conn, err)
	}
}

func (h *Handler) reject(conn *Connection, err error) {
	if session.IsInvalidTransition(err) {
		conn.Send(protocol.InvalidTransition{Message: err.Error()})
		return
	}
	conn.Send(protocol.ProtocolError{Message: err.Error()})
}

// configOverride extracts the optional configuration from a start message.
// An all-zero configuration means the client wants the stored one kept.
func configOverride(v *protocol.StartSession) *types.SessionConfig {
	c := v.Config
	if c.JobDescription == "" && c.InterviewerType == "" && c.Voice == "" &&
		c.Topic == "" && len(c.Questions) == 0 {
		return nil
	}
	return &c
}
