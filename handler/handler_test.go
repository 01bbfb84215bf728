package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"inventory-agent/internal/usecase"
)

type stubProcessor struct {
	out   usecase.ProcessOutput
	err   error
	in    usecase.ProcessInput
	calls int
}

func (s *stubProcessor) Process(_ context.Context, in usecase.ProcessInput) (usecase.ProcessOutput, error) {
	s.calls++
	s.in = in
	return s.out, s.err
}

func makeEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/process-email",
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

const validRequest = `{"sender":"test@foo.com","subject":"Consulta inventario: ABC, saldo, 1 día","body":"hola"}`

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
}

func TestHandle_HappyPath(t *testing.T) {
	uc := &stubProcessor{out: usecase.ProcessOutput{
		To:      "test@foo.com",
		Subject: "Re: Consulta inventario: ABC, saldo, 1 día",
		Body:    "Saldo actual de ABC: 120 unidades.",
	}}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(validRequest))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "test@foo.com", uc.in.Sender)
	require.Equal(t, "Consulta inventario: ABC, saldo, 1 día", uc.in.Subject)
	require.Equal(t, "hola", uc.in.Body)
	require.NotEmpty(t, uc.in.MessageID)

	out := parseBody[processResponse](t, resp.Body)
	require.Equal(t, "sent", out.Status)
	require.Contains(t, out.Body, "120 unidades")
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
}

func TestHandle_InvalidBody(t *testing.T) {
	uc := &stubProcessor{}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Zero(t, uc.calls)

	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
}

func TestHandle_MalformedSubjectCarriesDetail(t *testing.T) {
	uc := &stubProcessor{err: &usecase.Error{
		Code:   usecase.ErrorMalformedSubject,
		Reason: "missing_colon",
		Detail: "must contain a colon separating prefix from body",
	}}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"sender":"test@foo.com","subject":"Hola mundo","body":""}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, string(usecase.ErrorMalformedSubject), out.Error)
	require.Contains(t, out.Detail, "colon")
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_sender"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput)},
		{name: "rate limited", err: &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "mail_rate_limited"}, status: http.StatusServiceUnavailable, code: string(usecase.ErrorRateLimited)},
		{name: "delivery", err: &usecase.Error{Code: usecase.ErrorDelivery, Reason: "mail_send_error"}, status: http.StatusBadGateway, code: string(usecase.ErrorDelivery)},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "store_query_error"}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uc := &stubProcessor{err: tc.err}
			h, err := NewHandler(uc)
			require.NoError(t, err)

			resp, err := h.Handle(context.Background(), makeEvent(validRequest))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Error)
			require.NotContains(t, out.Detail, "boom")
		})
	}
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	uc := &stubProcessor{}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	event := makeEvent(validRequest)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
	require.Equal(t, "corr-123", uc.in.MessageID)
}
