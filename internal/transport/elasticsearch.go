package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/outlit-agent/internal/config"
	"github.com/GabrielNunesIT/outlit-agent/internal/model"
	"github.com/elastic/go-elasticsearch/v8"
)

// ElasticsearchOption configures the ElasticsearchTransport.
type ElasticsearchOption func(*elasticsearch.Config)

// WithRoundTripper sets the HTTP transport used by the Elasticsearch client.
// This is primarily used for testing.
func WithRoundTripper(rt http.RoundTripper) ElasticsearchOption {
	return func(c *elasticsearch.Config) {
		c.Transport = rt
	}
}

// ElasticsearchTransport indexes each batch with one Bulk request.
type ElasticsearchTransport struct {
	cfg    config.ElasticsearchTransportConfig
	client *elasticsearch.Client
	logger logger.ILogger
}

// esDocument is the indexed form of an event.
type esDocument struct {
	Event     model.Event
	IndexedAt string
	Source    model.SourceType
}

// MarshalJSON flattens the event and adds @timestamp and source next to its fields.
func (d esDocument) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(d.Event)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	if fields["@timestamp"], err = json.Marshal(d.IndexedAt); err != nil {
		return nil, err
	}
	if fields["source"], err = json.Marshal(d.Source); err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

type esBulkResponse struct {
	Errors bool                    `json:"errors"`
	Items  []map[string]esBulkItem `json:"items"`
}

type esBulkItem struct {
	Status int `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

// NewElasticsearchTransport creates an Elasticsearch client for cfg.
func NewElasticsearchTransport(cfg config.ElasticsearchTransportConfig, log logger.ILogger, opts ...ElasticsearchOption) (*ElasticsearchTransport, error) {
	esCfg := elasticsearch.Config{
		Addresses: cfg.Addresses,
	}
	if cfg.Username != "" {
		esCfg.Username = cfg.Username
		esCfg.Password = cfg.Password
	}
	for _, opt := range opts {
		opt(&esCfg)
	}

	client, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}

	return &ElasticsearchTransport{
		cfg:    cfg,
		client: client,
		logger: log.SubLogger("ElasticsearchTransport"),
	}, nil
}

// Name returns the transport identifier.
func (e *ElasticsearchTransport) Name() string {
	return "elasticsearch"
}

// Close is a no-op; the client holds no long-lived resources.
func (e *ElasticsearchTransport) Close(ctx context.Context) error {
	return nil
}

// Send indexes the batch. A failed request or an error status fails the
// whole batch; rejected items are reported as per-event errors.
func (e *ElasticsearchTransport) Send(ctx context.Context, payload *model.IngestPayload) (*model.IngestResponse, error) {
	if len(payload.Events) == 0 {
		return &model.IngestResponse{Success: true}, nil
	}

	var body bytes.Buffer
	for _, ev := range payload.Events {
		doc, err := json.Marshal(esDocument{
			Event:     ev,
			IndexedAt: ev.Time().UTC().Format(time.RFC3339Nano),
			Source:    payload.Source,
		})
		if err != nil {
			return nil, &Error{Transport: e.Name(), Kind: KindEncode, Err: err}
		}
		body.WriteString(`{"index":{}}` + "\n")
		body.Write(doc)
		body.WriteByte('\n')
	}

	res, err := e.client.Bulk(&body,
		e.client.Bulk.WithContext(ctx),
		e.client.Bulk.WithIndex(e.cfg.Index),
	)
	if err != nil {
		return nil, &Error{Transport: e.Name(), Kind: KindNetwork, Err: err}
	}
	defer res.Body.Close()

	if res.IsError() {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return nil, &Error{
			Transport:  e.Name(),
			Kind:       KindStatus,
			StatusCode: res.StatusCode,
			Body:       string(raw),
		}
	}

	var bulk esBulkResponse
	if err := json.NewDecoder(res.Body).Decode(&bulk); err != nil {
		return nil, &Error{Transport: e.Name(), Kind: KindDecode, StatusCode: res.StatusCode, Err: err}
	}

	result := &model.IngestResponse{Success: !bulk.Errors}
	for i, item := range bulk.Items {
		for _, op := range item {
			if op.Error == nil && op.Status < 300 {
				result.Processed++
				continue
			}
			msg := fmt.Sprintf("status %d", op.Status)
			if op.Error != nil {
				msg = op.Error.Type + ": " + op.Error.Reason
			}
			result.Errors = append(result.Errors, model.IngestError{Index: i, Message: msg})
		}
	}

	e.logger.Debugf("bulk indexed: index=%s, processed=%d, rejected=%d", e.cfg.Index, result.Processed, len(result.Errors))
	return result, nil
}
