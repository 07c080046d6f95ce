package testutil

import (
	"context"
	"testing"

	"github.com/GabrielNunesIT/outlit-agent/internal/model"
	"github.com/stretchr/testify/mock"
)

// MockWriteCloser is a testify mock of io.WriteCloser.
type MockWriteCloser struct {
	mock.Mock
}

// NewMockWriteCloser creates a MockWriteCloser whose expectations are asserted on cleanup.
func NewMockWriteCloser(t *testing.T) *MockWriteCloser {
	m := &MockWriteCloser{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockWriteCloser) Write(p []byte) (int, error) {
	args := m.Called(p)
	return args.Int(0), args.Error(1)
}

func (m *MockWriteCloser) Close() error {
	return m.Called().Error(0)
}

// MockTransport is a testify mock of transport.Transport.
type MockTransport struct {
	mock.Mock
}

// NewMockTransport creates a MockTransport whose expectations are asserted on cleanup.
func NewMockTransport(t *testing.T) *MockTransport {
	m := &MockTransport{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockTransport) Send(ctx context.Context, payload *model.IngestPayload) (*model.IngestResponse, error) {
	args := m.Called(ctx, payload)
	resp, _ := args.Get(0).(*model.IngestResponse)
	return resp, args.Error(1)
}

func (m *MockTransport) Name() string {
	return "mock"
}

func (m *MockTransport) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
