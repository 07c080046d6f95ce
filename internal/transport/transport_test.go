package transport

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/GabrielNunesIT/outlit-agent/internal/config"
	"github.com/GabrielNunesIT/outlit-agent/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Message(t *testing.T) {
	statusErr := &Error{Transport: "http", Kind: KindStatus, StatusCode: 503, Body: "unavailable"}
	assert.Equal(t, "http: status 503: unavailable", statusErr.Error())

	cause := errors.New("dial tcp: refused")
	netErr := &Error{Transport: "http", Kind: KindNetwork, Err: cause}
	assert.Equal(t, "http: network error: dial tcp: refused", netErr.Error())
	assert.ErrorIs(t, netErr, cause)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&Error{Kind: KindNetwork}))
	assert.True(t, IsRetryable(fmt.Errorf("flush: %w", &Error{Kind: KindStorage})))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*config.Config)
		wantName string
		wantErr  bool
	}{
		{name: "http", mutate: func(c *config.Config) { c.Transport.Kind = config.TransportHTTP }, wantName: "http"},
		{name: "stdout", mutate: func(c *config.Config) { c.Transport.Kind = config.TransportStdout }, wantName: "stdout"},
		{
			name: "file",
			mutate: func(c *config.Config) {
				c.Transport.Kind = config.TransportFile
				c.Transport.File.Path = filepath.Join(t.TempDir(), "events.ndjson")
			},
			wantName: "file",
		},
		{
			name: "elasticsearch",
			mutate: func(c *config.Config) {
				c.Transport.Kind = config.TransportElasticsearch
				c.Transport.Elasticsearch.Addresses = []string{"http://localhost:9200"}
			},
			wantName: "elasticsearch",
		},
		{name: "unknown", mutate: func(c *config.Config) { c.Transport.Kind = "smoke-signal" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.Client.PublicKey = "pk"
			cfg.Client.APIHost = "https://example.com"
			tt.mutate(cfg)

			tr, err := New(context.Background(), cfg, testutil.NewTestLogger())
			if tt.wantErr {
				assert.ErrorIs(t, err, config.ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, tr.Name())
			assert.NoError(t, tr.Close(context.Background()))
		})
	}
}
