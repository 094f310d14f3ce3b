package writers

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/fortunelab/fortune-gateway/internal/services/stream/contracts"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConnState struct {
	connected bool
	done      chan struct{}
}

func newStubConnState(connected bool) *stubConnState {
	done := make(chan struct{})
	if !connected {
		close(done)
	}
	return &stubConnState{connected: connected, done: done}
}

func (s *stubConnState) IsConnected() bool { return s.connected }

func (s *stubConnState) Done() <-chan struct{} { return s.done }

func newTestWriter(connected bool) (*SSEWriter, *bytes.Buffer) {
	var buf bytes.Buffer
	w := NewSSEWriter(bufio.NewWriter(&buf), newStubConnState(connected), "req_test")
	return w, &buf
}

func TestWriteContentWireFormat(t *testing.T) {
	w, buf := newTestWriter(true)

	require.NoError(t, w.WriteContent("今日运势"))

	assert.Equal(t, "data: {\"content\":\"今日运势\"}\n\n", buf.String())
}

func TestWriteErrorWireFormat(t *testing.T) {
	w, buf := newTestWriter(true)

	require.NoError(t, w.WriteError("会话不存在"))

	assert.Equal(t, "event: error\ndata: {\"error\":\"会话不存在\"}\n\n", buf.String())
}

func TestCloseWritesSentinel(t *testing.T) {
	w, buf := newTestWriter(true)

	require.NoError(t, w.Close())

	assert.Equal(t, "data: [DONE]\n\n", buf.String())
}

func TestCloseIsIdempotent(t *testing.T) {
	w, buf := newTestWriter(true)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	assert.Equal(t, "data: [DONE]\n\n", buf.String())
}

func TestErrorEventPrecedesSentinel(t *testing.T) {
	w, buf := newTestWriter(true)

	require.NoError(t, w.WriteContent("partial"))
	require.NoError(t, w.WriteError("provider failed"))
	require.NoError(t, w.Close())

	out := buf.String()
	assert.Contains(t, out, "data: {\"content\":\"partial\"}\n\n")
	assert.Contains(t, out, "event: error\ndata: {\"error\":\"provider failed\"}\n\n")
	assert.True(t, bytes.HasSuffix(buf.Bytes(), []byte("data: [DONE]\n\n")))
}

func TestWriteAfterDisconnect(t *testing.T) {
	w, buf := newTestWriter(false)

	err := w.WriteContent("lost")
	require.Error(t, err)
	assert.True(t, contracts.IsClientDisconnect(err))
	assert.Empty(t, buf.String())

	err = w.Close()
	require.Error(t, err)
	assert.True(t, contracts.IsClientDisconnect(err))
	assert.Empty(t, buf.String())
}

func TestTotalBytesAccumulates(t *testing.T) {
	w, buf := newTestWriter(true)

	require.NoError(t, w.WriteContent("ab"))
	require.NoError(t, w.Close())

	assert.Equal(t, int64(buf.Len()), w.TotalBytes())
}
