package qrmanager

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"turnstile-service/internal/platform/httpclient"
	"turnstile-service/internal/ports/authority"
)

var ErrNotConfigured = errors.New("qr manager client not configured")

const consumePath = "/qrcodes/consume"

// Config del cliente contra el QR Manager.
// BaseURL normalmente viene de env en quien lo instancia.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client implementa authority.Consumer contra la API HTTP del QR Manager.
// Toda respuesta no-2xx se clasifica con la taxonomía cerrada del port:
// definitivo (400/404/409/410) o transitorio (el resto).
type Client struct {
	http *httpclient.Client
}

var _ authority.Consumer = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, ErrNotConfigured
	}
	hc, err := httpclient.NewWithBaseURL(cfg.BaseURL, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return &Client{http: hc}, nil
}

// NewClientWithTransport permite inyectar un RoundTripper (para tests).
func NewClientWithTransport(baseURL string, timeout time.Duration, tr http.RoundTripper) *Client {
	hc := httpclient.NewWithTransport(timeout, tr)
	hc.BaseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return &Client{http: hc}
}

func (c *Client) Consume(ctx context.Context, req authority.ConsumeRequest) (authority.ConsumeResult, error) {
	if c == nil || c.http == nil {
		return authority.ConsumeResult{}, ErrNotConfigured
	}

	var body json.RawMessage
	err := c.http.DoJSON(ctx, http.MethodPost, consumePath, nil, req, &body)
	if err == nil {
		return authority.ConsumeResult{Body: body}, nil
	}

	var herr *httpclient.HTTPError
	if errors.As(err, &herr) {
		if kind, ok := authority.ClassifyStatus(herr.StatusCode); ok {
			return authority.ConsumeResult{}, &authority.RejectedError{
				Kind:       kind,
				StatusCode: herr.StatusCode,
				Message:    rejectionMessage(herr.Body),
			}
		}
		// 5xx y cualquier otro status: la autoridad no decidió nada.
		return authority.ConsumeResult{}, &authority.UnreachableError{Cause: herr}
	}

	// Timeout, conexión rechazada, DNS, etc.
	return authority.ConsumeResult{}, &authority.UnreachableError{Cause: err}
}

// rejectionMessage extrae {"message": ...} si el body es JSON; si no,
// devuelve el body crudo recortado.
func rejectionMessage(body string) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err == nil && strings.TrimSpace(parsed.Message) != "" {
		return strings.TrimSpace(parsed.Message)
	}
	return body
}
