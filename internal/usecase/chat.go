package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ai-tutor/internal/domain"
	"ai-tutor/internal/format"
)

const (
	defaultMaxQuestion = 2000

	// ApologyText is the only bot entry a user sees when a question fails.
	ApologyText = "Sorry, I encountered an error. Please try again."

	OutcomeAnswered = "answered"
	OutcomeFailed   = "failed"
)

type Asker interface {
	Ask(ctx context.Context, question string) (domain.Reply, error)
}

type ConversationStore interface {
	Load(ctx context.Context, sessionID string) (domain.Conversation, error)
	Append(ctx context.Context, sessionID string, entry domain.ConversationEntry) error
}

type Sanitizer interface {
	Sanitize(markup string) string
}

// Observer is told about every call to the tutor service.
type Observer interface {
	ObserveAsk(outcome string, elapsed time.Duration)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type ChatService struct {
	asker          Asker
	store          ConversationStore
	logger         *slog.Logger
	maxQuestionLen int
	sanitizer      Sanitizer
	observer       Observer
	now            func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

type ChatOption func(*ChatService)

// WithSanitizer runs every formatted reply through s before it is stored.
func WithSanitizer(s Sanitizer) ChatOption {
	return func(c *ChatService) {
		c.sanitizer = s
	}
}

func WithObserver(o Observer) ChatOption {
	return func(c *ChatService) {
		c.observer = o
	}
}

type SendInput struct {
	SessionID string
	Question  string
}

type SendOutput struct {
	SessionID    string
	Reply        domain.ConversationEntry
	Conversation domain.Conversation
	// Failure is the classified tutor service error when Reply is the apology.
	// It is for logs and exit codes, never for display.
	Failure error
}

// Answered reports whether the reply came from the tutor service.
func (o SendOutput) Answered() bool {
	return o.Failure == nil
}

func NewChatService(a Asker, s ConversationStore, logger *slog.Logger, maxQuestionLen int, opts ...ChatOption) (*ChatService, error) {
	if a == nil {
		return nil, errors.New("usecase: asker must not be nil")
	}
	if s == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if maxQuestionLen <= 0 {
		maxQuestionLen = defaultMaxQuestion
	}
	c := &ChatService{
		asker:          a,
		store:          s,
		logger:         logger,
		maxQuestionLen: maxQuestionLen,
		now:            time.Now,
		inFlight:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Send records the question, asks the tutor service and records its reply.
// A failed ask still produces exactly one bot entry, the apology.
func (c *ChatService) Send(ctx context.Context, in SendInput) (SendOutput, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return SendOutput{}, newError(ErrorInvalidInput, "empty_question", nil)
	}
	if len(question) > c.maxQuestionLen {
		return SendOutput{}, newError(ErrorInvalidInput, "question_too_long", nil)
	}

	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = newUUID()
	}
	if !c.acquire(sessionID) {
		return SendOutput{}, newError(ErrorBusy, "request_in_flight", nil)
	}
	defer c.release(sessionID)

	userEntry := c.newEntry(in.Question, true)
	if err := c.store.Append(ctx, sessionID, userEntry); err != nil {
		return SendOutput{}, newError(ErrorInternal, "store_append_error", err)
	}

	text, failure := c.answer(ctx, sessionID, question)
	botEntry := c.newEntry(text, false)
	if err := c.store.Append(ctx, sessionID, botEntry); err != nil {
		return SendOutput{}, newError(ErrorInternal, "store_append_error", err)
	}

	conv, err := c.store.Load(ctx, sessionID)
	if err != nil {
		return SendOutput{}, newError(ErrorInternal, "store_load_error", err)
	}
	return SendOutput{
		SessionID:    sessionID,
		Reply:        botEntry,
		Conversation: conv,
		Failure:      failure,
	}, nil
}

// History returns the session's transcript; a blank id has none.
func (c *ChatService) History(ctx context.Context, sessionID string) (domain.Conversation, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Conversation{}, nil
	}
	conv, err := c.store.Load(ctx, sessionID)
	if err != nil {
		return domain.Conversation{}, newError(ErrorInternal, "store_load_error", err)
	}
	return conv, nil
}

func (c *ChatService) answer(ctx context.Context, sessionID, question string) (string, error) {
	start := c.now()
	reply, err := c.asker.Ask(ctx, question)
	elapsed := c.now().Sub(start)
	if err != nil {
		failure := classifyAskError(err)
		c.observe(OutcomeFailed, elapsed)
		c.logger.Warn("ask failed", "session", sessionID, "code", failure.Code, "reason", failure.Reason, "err", err)
		return ApologyText, failure
	}
	c.observe(OutcomeAnswered, elapsed)
	c.logger.Debug("ask answered", "session", sessionID, "structured", reply.Structured(), "elapsed", elapsed)

	markup := format.Format(reply)
	if c.sanitizer != nil {
		markup = c.sanitizer.Sanitize(markup)
	}
	return markup, nil
}

func (c *ChatService) observe(outcome string, elapsed time.Duration) {
	if c.observer != nil {
		c.observer.ObserveAsk(outcome, elapsed)
	}
}

func (c *ChatService) newEntry(text string, isUser bool) domain.ConversationEntry {
	return domain.ConversationEntry{
		ID:        newUUID(),
		Text:      text,
		IsUser:    isUser,
		CreatedAt: c.now(),
	}
}

func (c *ChatService) acquire(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[sessionID]; busy {
		return false
	}
	c.inFlight[sessionID] = struct{}{}
	return true
}

func (c *ChatService) release(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, sessionID)
}

func classifyAskError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newError(ErrorUpstream, "tutor_api_timeout", err)
	}
	if status, ok := upstreamStatusCode(err); ok && status == 429 {
		return newError(ErrorRateLimited, "tutor_api_rate_limited", err)
	}
	return newError(ErrorUpstream, "tutor_api_error", err)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
