// Package web serves the chat page and its JSON API.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	htmltemplate "html/template"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"ai-tutor/internal/domain"
	"ai-tutor/internal/usecase"
)

const (
	maxBodySize       = 64 << 10
	sessionCookieName = "aitutor_session"
	sessionMaxAge     = 86400 * 30 // 30 days
	shutdownTimeout   = 5 * time.Second

	defaultMaxQuestionLen = 2000
)

//go:embed templates/*.html
var templateFS embed.FS

type Chat interface {
	Send(ctx context.Context, in usecase.SendInput) (usecase.SendOutput, error)
	History(ctx context.Context, sessionID string) (domain.Conversation, error)
}

type Config struct {
	Addr           string
	Logger         *slog.Logger
	MaxQuestionLen int
	RateLimitRPS   float64
	RateLimitBurst int
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
	// OnRateLimited is called for every question rejected by the limiter.
	OnRateLimited func()
}

type Server struct {
	addr           string
	chat           Chat
	logger         *slog.Logger
	tmpl           *htmltemplate.Template
	limiter        *limiterPool
	maxQuestionLen int
	metrics        http.Handler
	onRateLimited  func()
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	SessionID string                     `json:"sessionId"`
	Reply     domain.ConversationEntry   `json:"reply"`
	Entries   []domain.ConversationEntry `json:"entries"`
}

type historyResponse struct {
	SessionID string                     `json:"sessionId"`
	Entries   []domain.ConversationEntry `json:"entries"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type entryView struct {
	IsUser bool
	Text   string
	Markup htmltemplate.HTML
}

type pageData struct {
	Entries        []entryView
	MaxQuestionLen int
}

func NewServer(chat Chat, cfg Config) (*Server, error) {
	if chat == nil {
		return nil, errors.New("web: chat service must not be nil")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxQuestionLen <= 0 {
		cfg.MaxQuestionLen = defaultMaxQuestionLen
	}
	tmpl, err := htmltemplate.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Server{
		addr:           cfg.Addr,
		chat:           chat,
		logger:         cfg.Logger,
		tmpl:           tmpl,
		limiter:        newLimiterPool(cfg.RateLimitRPS, cfg.RateLimitBurst),
		maxQuestionLen: cfg.MaxQuestionLen,
		metrics:        cfg.Metrics,
		onRateLimited:  cfg.OnRateLimited,
	}, nil
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handlePage)
	mux.HandleFunc("POST /ask", s.handleAsk)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("POST /clear", s.handleClear)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("web shutdown", "err", err)
		}
	}()

	s.logger.Info("web UI started", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handlePage(rw http.ResponseWriter, r *http.Request) {
	conv, err := s.chat.History(r.Context(), sessionFromCookie(r))
	if err != nil {
		s.logger.Error("load history for page", "err", err)
		http.Error(rw, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := pageData{MaxQuestionLen: s.maxQuestionLen}
	for _, e := range conv.Entries {
		v := entryView{IsUser: e.IsUser}
		if e.IsUser {
			v.Text = e.Text
		} else {
			// Bot entries are formatter output and were sanitized before storage.
			v.Markup = htmltemplate.HTML(e.Text)
		}
		data.Entries = append(data.Entries, v)
	}

	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(rw, "chat.html", data); err != nil {
		s.logger.Error("render chat page", "err", err)
	}
}

func (s *Server) handleAsk(rw http.ResponseWriter, r *http.Request) {
	form := isFormPost(r)

	if !s.limiter.Allow(clientIP(r)) {
		if s.onRateLimited != nil {
			s.onRateLimited()
		}
		s.writeError(rw, usecase.NewError(usecase.ErrorRateLimited, "too_many_requests"))
		return
	}

	r.Body = http.MaxBytesReader(rw, r.Body, maxBodySize)
	var question string
	if form {
		if err := r.ParseForm(); err != nil {
			s.writeError(rw, usecase.NewError(usecase.ErrorInvalidInput, "invalid_form"))
			return
		}
		question = r.PostForm.Get("question")
	} else {
		var in askRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			s.writeError(rw, usecase.NewError(usecase.ErrorInvalidInput, "invalid_json"))
			return
		}
		question = in.Question
	}

	current := sessionFromCookie(r)
	out, err := s.chat.Send(r.Context(), usecase.SendInput{SessionID: current, Question: question})
	if err != nil {
		if form {
			s.logger.Info("form ask rejected", "err", err)
			http.Redirect(rw, r, "/", http.StatusSeeOther)
			return
		}
		s.writeError(rw, err)
		return
	}
	if out.SessionID != current {
		setSessionCookie(rw, out.SessionID)
	}

	if form {
		http.Redirect(rw, r, "/", http.StatusSeeOther)
		return
	}
	writeJSON(rw, http.StatusOK, askResponse{
		SessionID: out.SessionID,
		Reply:     out.Reply,
		Entries:   nonNil(out.Conversation.Entries),
	})
}

func (s *Server) handleHistory(rw http.ResponseWriter, r *http.Request) {
	conv, err := s.chat.History(r.Context(), sessionFromCookie(r))
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, historyResponse{SessionID: conv.ID, Entries: nonNil(conv.Entries)})
}

// handleClear forgets the session on this client. Stored history is kept.
func (s *Server) handleClear(rw http.ResponseWriter, r *http.Request) {
	http.SetCookie(rw, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	if isFormPost(r) {
		http.Redirect(rw, r, "/", http.StatusSeeOther)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "session cleared"})
}

func (s *Server) handleHealth(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeError(rw http.ResponseWriter, err error) {
	code, reason := usecase.CodeOf(err)
	status := usecase.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "err", err)
		reason = ""
	}
	writeJSON(rw, status, errorResponse{Error: string(code), Reason: reason})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func nonNil(entries []domain.ConversationEntry) []domain.ConversationEntry {
	if entries == nil {
		return []domain.ConversationEntry{}
	}
	return entries
}

func sessionFromCookie(r *http.Request) string {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

func setSessionCookie(rw http.ResponseWriter, sessionID string) {
	http.SetCookie(rw, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   sessionMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func isFormPost(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/x-www-form-urlencoded"
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
