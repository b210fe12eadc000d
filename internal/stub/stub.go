// Package stub is an in-memory message service with the same observable
// contract as the service rampvu targets. It exists for local runs and tests.
package stub

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Message is one stored message.
type Message struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type postRequest struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// DefaultRetention is how long a stored message is kept.
const DefaultRetention = time.Hour

// Server handles /message. Messages are kept per session for the
// retention window.
type Server struct {
	logger    *zap.Logger
	now       func() time.Time
	retention time.Duration

	mu       sync.RWMutex
	sessions map[string][]Message
}

// New creates a stub server. A nil logger discards everything.
func New(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger:    logger,
		now:       time.Now,
		retention: DefaultRetention,
		sessions:  make(map[string][]Message),
	}
}

// SetRetention changes the retention window. Non-positive values are ignored.
func (s *Server) SetRetention(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.retention = d
	s.mu.Unlock()
}

// Prune drops expired messages and empty sessions and returns how many
// messages were removed.
func (s *Server) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.cutoff()
	removed := 0
	for key, msgs := range s.sessions {
		kept := expire(msgs, cutoff)
		removed += len(msgs) - len(kept)
		if len(kept) == 0 {
			delete(s.sessions, key)
			continue
		}
		s.sessions[key] = kept
	}
	return removed
}

// RunPruner calls Prune every interval until ctx is done.
func (s *Server) RunPruner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Prune(); n > 0 {
				s.logger.Debug("expired messages pruned", zap.Int("removed", n))
			}
		}
	}
}

// cutoff is the oldest timestamp still retained. Callers hold s.mu.
func (s *Server) cutoff() int64 {
	return s.now().Add(-s.retention).UnixMilli()
}

// expire returns msgs without entries older than cutoff. Messages within a
// session are stored in timestamp order.
func expire(msgs []Message, cutoff int64) []Message {
	i := 0
	for i < len(msgs) && msgs[i].Timestamp < cutoff {
		i++
	}
	if i == 0 {
		return msgs
	}
	return append([]Message(nil), msgs[i:]...)
}

// Handler returns the HTTP handler serving /message and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/message", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			s.post(w, r)
		case http.MethodGet:
			s.get(w, r)
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("healthy"))
	})
	return mux
}

// Count returns the number of stored messages.
func (s *Server) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, msgs := range s.sessions {
		n += len(msgs)
	}
	return n
}

func (s *Server) post(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.SessionID == "" {
		http.Error(w, "userId and sessionId are required", http.StatusBadRequest)
		return
	}

	msg := Message{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Message:   req.Message,
		Timestamp: s.now().UnixMilli(),
	}

	key := sessionKey(req.UserID, req.SessionID)
	s.mu.Lock()
	s.sessions[key] = append(expire(s.sessions[key], s.cutoff()), msg)
	s.mu.Unlock()

	s.logger.Debug("message stored",
		zap.String("user_id", msg.UserID),
		zap.Int64("timestamp", msg.Timestamp),
	)

	writeJSON(w, http.StatusAccepted, map[string]int64{"timestamp": msg.Timestamp})
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, sessionID := q.Get("userId"), q.Get("sessionId")
	if userID == "" || sessionID == "" {
		http.Error(w, "userId and sessionId are required", http.StatusBadRequest)
		return
	}

	var since int64
	if raw := q.Get("timestamp"); raw != "" {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid timestamp", http.StatusBadRequest)
			return
		}
		since = ts
	}

	s.mu.RLock()
	if cutoff := s.cutoff(); cutoff > since {
		since = cutoff
	}
	stored := s.sessions[sessionKey(userID, sessionID)]
	messages := make([]Message, 0, len(stored))
	for _, msg := range stored {
		if msg.Timestamp >= since {
			messages = append(messages, msg)
		}
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string][]Message{"messages": messages})
}

func sessionKey(userID, sessionID string) string {
	return userID + "\x00" + sessionID
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
