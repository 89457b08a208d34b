package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"ai-tutor/internal/domain"
	"ai-tutor/internal/usecase"
)

type stubChat struct {
	out usecase.SendOutput
	err error
	in  usecase.SendInput
}

func (s *stubChat) Send(_ context.Context, in usecase.SendInput) (usecase.SendOutput, error) {
	s.in = in
	return s.out, s.err
}

func makeEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/ask",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func sampleOutput() usecase.SendOutput {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	user := domain.ConversationEntry{ID: "e1", Text: "What is Go?", IsUser: true, CreatedAt: created}
	bot := domain.ConversationEntry{ID: "e2", Text: `<p class="mb-2">A language.</p>`, CreatedAt: created}
	return usecase.SendOutput{
		SessionID:    "sess-1",
		Reply:        bot,
		Conversation: domain.Conversation{ID: "sess-1", Entries: []domain.ConversationEntry{user, bot}},
	}
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
}

func TestHandle_HappyPath(t *testing.T) {
	chat := &stubChat{out: sampleOutput()}
	h, err := NewHandler(chat)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"question":"What is Go?","sessionId":"sess-1"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.SendInput{Question: "What is Go?", SessionID: "sess-1"}, chat.in)

	out := parseBody[askResponse](t, resp.Body)
	require.Equal(t, "sess-1", out.SessionID)
	require.Equal(t, `<p class="mb-2">A language.</p>`, out.Reply.Text)
	require.False(t, out.Reply.IsUser)
	require.Len(t, out.Entries, 2)
	require.True(t, out.Entries[0].IsUser)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
	require.Equal(t, "application/json", resp.Headers["Content-Type"])
}

func TestHandle_ApologyIsStillOK(t *testing.T) {
	out := sampleOutput()
	out.Reply.Text = usecase.ApologyText
	out.Failure = errors.New("upstream down")
	h, err := NewHandler(&stubChat{out: out})
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"question":"q"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotContains(t, resp.Body, "upstream down")
	require.Equal(t, usecase.ApologyText, parseBody[askResponse](t, resp.Body).Reply.Text)
}

func TestHandle_EmptyConversationEncodesAsArray(t *testing.T) {
	out := sampleOutput()
	out.Conversation = domain.Conversation{ID: "sess-1"}
	h, err := NewHandler(&stubChat{out: out})
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"question":"q"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Body, `"entries":[]`)
}

func TestHandle_InvalidBody(t *testing.T) {
	h, err := NewHandler(&stubChat{})
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
	require.Equal(t, "invalid_json", out.Reason)
}

func TestHandle_MethodNotAllowed(t *testing.T) {
	h, err := NewHandler(&stubChat{})
	require.NoError(t, err)

	event := makeEvent(``)
	event.HTTPMethod = http.MethodGet
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
		reason string
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_question"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput), reason: "empty_question"},
		{name: "busy", err: &usecase.Error{Code: usecase.ErrorBusy, Reason: "request_in_flight"}, status: http.StatusConflict, code: string(usecase.ErrorBusy), reason: "request_in_flight"},
		{name: "rate limited", err: &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "too_many_requests"}, status: http.StatusTooManyRequests, code: string(usecase.ErrorRateLimited), reason: "too_many_requests"},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "store_append_error", Err: errors.New("secret detail")}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, err := NewHandler(&stubChat{err: tc.err})
			require.NoError(t, err)

			resp, err := h.Handle(context.Background(), makeEvent(`{"question":"What is Go?"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
			require.NotContains(t, resp.Body, "secret detail")

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Error)
			require.Equal(t, tc.reason, out.Reason)
		})
	}
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h, err := NewHandler(&stubChat{out: sampleOutput()})
	require.NoError(t, err)

	event := makeEvent(`{"question":"What is Go?"}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}
