package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/outlit-agent/internal/config"
	"github.com/GabrielNunesIT/outlit-agent/internal/model"
	"github.com/google/uuid"
)

const maxErrorBody = 4096

// HTTPTransport posts payloads to the Outlit ingest API.
type HTTPTransport struct {
	endpoint string
	client   HTTPDoer
	logger   logger.ILogger
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient sets a custom HTTP client for testing.
func WithHTTPClient(client HTTPDoer) HTTPOption {
	return func(t *HTTPTransport) {
		t.client = client
	}
}

// NewHTTPTransport creates a transport for {apihost}/api/i/v1/{publickey}/events.
func NewHTTPTransport(cfg config.ClientConfig, log logger.ILogger, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		endpoint: Endpoint(cfg.APIHost, cfg.PublicKey),
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: log.SubLogger("HTTPTransport"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Endpoint returns the ingest URL for a public key.
func Endpoint(apiHost, publicKey string) string {
	return fmt.Sprintf("%s/api/i/v1/%s/events", strings.TrimRight(apiHost, "/"), publicKey)
}

// Name returns the transport identifier.
func (t *HTTPTransport) Name() string {
	return "http"
}

// Close is a no-op; idle connections belong to the HTTP client.
func (t *HTTPTransport) Close(ctx context.Context) error {
	return nil
}

// Send posts the payload and decodes the ingest response.
func (t *HTTPTransport) Send(ctx context.Context, payload *model.IngestPayload) (*model.IngestResponse, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Transport: t.Name(), Kind: KindEncode, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Transport: t.Name(), Kind: KindNetwork, Err: err}
	}

	payloadID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Payload-ID", payloadID)

	t.logger.Debugf("sending events: endpoint=%s, count=%d, payload_id=%s", t.endpoint, len(payload.Events), payloadID)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &Error{Transport: t.Name(), Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		t.logger.Warningf("API request failed: status=%d, body=%s", resp.StatusCode, string(body))
		return nil, &Error{
			Transport:  t.Name(),
			Kind:       KindStatus,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	var result model.IngestResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &Error{Transport: t.Name(), Kind: KindDecode, StatusCode: resp.StatusCode, Err: err}
	}

	t.logger.Debugf("events sent: processed=%d, errors=%d", result.Processed, len(result.Errors))
	return &result, nil
}
