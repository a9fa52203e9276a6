package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/time/rate"

	"github.com/antoniostano/studybuddy/internal/chat"
	"github.com/antoniostano/studybuddy/internal/config"
	"github.com/antoniostano/studybuddy/internal/conversation"
	"github.com/antoniostano/studybuddy/internal/memory"
	"github.com/antoniostano/studybuddy/internal/observability"
	"github.com/antoniostano/studybuddy/internal/protocol"
	"github.com/antoniostano/studybuddy/internal/session"
)

// Chat is the conversation surface the API drives.
type Chat interface {
	HandleMessage(ctx context.Context, sess *session.Session, text string) (chat.Reply, error)
	Context(ctx context.Context, userID string) (conversation.State, error)
	Reset(ctx context.Context, userID string) error
	History(ctx context.Context, userID string, limit int) ([]memory.TurnRecord, error)
}

type Server struct {
	cfg       config.Config
	sessions  *session.Manager
	chat      Chat
	metrics   *observability.Metrics
	storeMode string
	logger    zerolog.Logger
	upgrader  websocket.Upgrader

	limitMu  sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(cfg config.Config, sessions *session.Manager, chatSvc Chat, metrics *observability.Metrics, storeMode string, logger zerolog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		sessions:  sessions,
		chat:      chatSvc,
		metrics:   metrics,
		storeMode: storeMode,
		logger:    logger,
		limiters:  make(map[string]*rate.Limiter),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(s.logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/chat/session", s.handleCreateSession)
	r.Get("/v1/chat/session/ws", s.handleSessionWS)
	r.Post("/v1/chat/session/{id}/end", s.handleEndSession)
	r.Post("/v1/chat/session/{id}/message", s.handleMessage)
	r.Get("/v1/chat/session/{id}/context", s.handleGetContext)
	r.Delete("/v1/chat/session/{id}/context", s.handleResetContext)
	r.Get("/v1/chat/session/{id}/turns", s.handleGetTurns)

	return r
}

// ForgetSession drops per-session API state such as rate limiters.
func (s *Server) ForgetSession(sessionID string) {
	s.limitMu.Lock()
	defer s.limitMu.Unlock()
	delete(s.limiters, sessionID)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"store_mode":      s.storeMode,
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}

	sess := s.sessions.Create(strings.TrimSpace(req.UserID))
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.endSession(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

type messageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.activeSession(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if !s.allow(sess.ID) {
		respondError(w, http.StatusTooManyRequests, "rate_limited", "too many messages, slow down")
		return
	}

	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	reply, err := s.chat.HandleMessage(r.Context(), sess, req.Text)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			respondError(w, http.StatusBadRequest, "empty_message", err.Error())
			return
		}
		hlog.FromRequest(r).Error().Err(err).Str("session_id", sess.ID).Msg("handle message failed")
		respondError(w, http.StatusInternalServerError, "internal", "could not process message")
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	st, err := s.chat.Context(r.Context(), sess.UserID)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("session_id", sess.ID).Msg("load context failed")
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", "could not load conversation context")
		return
	}
	raw, err := conversation.EncodeState(st)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *Server) handleResetContext(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if err := s.chat.Reset(r.Context(), sess.UserID); err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("session_id", sess.ID).Msg("reset context failed")
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", "could not reset conversation context")
		return
	}
	s.metrics.SessionEvents.WithLabelValues("context_reset").Inc()
	w.WriteHeader(http.StatusNoContent)
}

// handleGetTurns serves the redacted turn log, newest limit turns oldest first.
func (s *Server) handleGetTurns(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
	}

	turns, err := s.chat.History(r.Context(), sess.UserID, limit)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("session_id", sess.ID).Msg("load turn log failed")
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", "could not load turn log")
		return
	}
	if turns == nil {
		turns = []memory.TurnRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"user_id":    sess.UserID,
		"turns":      turns,
	})
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	sess, ok := s.activeSession(w, sessionID)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	log := hlog.FromRequest(r).With().Str("session_id", sessionID).Logger()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					log.Debug().Err(err).Msg("websocket write failed")
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
				if ev, ok := msg.(protocol.SystemEvent); ok && ev.Code == "session_ended" {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
						time.Now().Add(time.Second))
					cancel()
					return
				}
			}
		}
	}()

	send := func(msg any) {
		select {
		case <-ctx.Done():
		case outbound <- msg:
		}
	}
	send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "connected"})

	idle := s.cfg.SessionInactivityTimeout
	if idle <= 0 {
		idle = 2 * time.Minute
	}
	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		return nil
	})

	for ctx.Err() == nil {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(errorEvent(sessionID, "invalid_client_message", false, err.Error()))
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}

		switch m := parsed.(type) {
		case protocol.ClientMessage:
			if m.SessionID != sessionID {
				send(errorEvent(sessionID, "session_mismatch", false, "message session_id does not match connection"))
				continue
			}
			current, err := s.sessions.GetActive(sessionID)
			if err != nil {
				send(errorEvent(sessionID, "session_ended", false, err.Error()))
				continue
			}
			if !s.allow(sessionID) {
				send(errorEvent(sessionID, "rate_limited", true, "too many messages, slow down"))
				continue
			}
			reply, err := s.chat.HandleMessage(ctx, current, m.Text)
			if err != nil {
				log.Warn().Err(err).Msg("handle message failed")
				send(errorEvent(sessionID, "message_failed", !errors.Is(err, chat.ErrEmptyMessage), err.Error()))
				continue
			}
			send(protocol.AssistantReply{
				Type:           protocol.TypeAssistantReply,
				SessionID:      sessionID,
				TurnID:         reply.TurnID,
				Text:           reply.Text,
				Emotion:        reply.Emotion,
				Source:         reply.Source,
				Classification: string(reply.Classification),
				Topic:          reply.Topic,
				CurrentTopic:   reply.CurrentTopic,
			})
		case protocol.ClientControl:
			switch m.Action {
			case protocol.ActionResetContext:
				if err := s.chat.Reset(ctx, sess.UserID); err != nil {
					send(errorEvent(sessionID, "reset_failed", true, err.Error()))
					continue
				}
				s.metrics.SessionEvents.WithLabelValues("context_reset").Inc()
				send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "context_reset"})
			case protocol.ActionEnd:
				if _, err := s.endSession(sessionID); err != nil {
					send(errorEvent(sessionID, "session_not_found", false, err.Error()))
					continue
				}
				send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "session_ended"})
			default:
				send(errorEvent(sessionID, "unsupported_action", false, "unknown action "+m.Action))
			}
		}
	}

	cancel()
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

func (s *Server) activeSession(w http.ResponseWriter, id string) (*session.Session, bool) {
	sess, err := s.sessions.GetActive(strings.TrimSpace(id))
	switch {
	case errors.Is(err, session.ErrEnded):
		respondError(w, http.StatusConflict, "session_ended", err.Error())
		return nil, false
	case err != nil:
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return nil, false
	}
	return sess, true
}

func (s *Server) endSession(id string) (*session.Session, error) {
	sess, err := s.sessions.End(id)
	if err != nil {
		return nil, err
	}
	s.ForgetSession(id)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	return sess, nil
}

func (s *Server) allow(sessionID string) bool {
	s.limitMu.Lock()
	l, ok := s.limiters[sessionID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.cfg.MessageRateLimit), s.cfg.MessageBurst)
		s.limiters[sessionID] = l
	}
	s.limitMu.Unlock()
	if l.Allow() {
		return true
	}
	s.metrics.SessionEvents.WithLabelValues("rate_limited").Inc()
	return false
}

func errorEvent(sessionID, code string, retryable bool, detail string) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    "gateway",
		Retryable: retryable,
		Detail:    detail,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientMessage:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.AssistantReply:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
