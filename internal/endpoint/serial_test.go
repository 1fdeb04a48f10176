package endpoint

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// scriptedTransport pops pre-loaded read chunks, then reports EOF. Writes are
// recorded, or fail when wErr is set.
type scriptedTransport struct {
	mu      sync.Mutex
	reads   [][]byte
	written []byte
	wErr    error
	closed  bool
}

func (t *scriptedTransport) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.reads) == 0 {
		return 0, io.EOF
	}
	n := copy(p, t.reads[0])
	if n == len(t.reads[0]) {
		t.reads = t.reads[1:]
	} else {
		t.reads[0] = t.reads[0][n:]
	}
	return n, nil
}

func (t *scriptedTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.wErr != nil {
		return 0, t.wErr
	}
	t.written = append(t.written, p...)
	return len(p), nil
}

func (t *scriptedTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *scriptedTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func TestSerialSendOneWritesSingleByte(t *testing.T) {
	mock := &scriptedTransport{}
	s := NewSerialWithTransport("/dev/ttyUSB0", mock, zap.NewNop())

	s.EnqueueOut([]byte("abc"))
	assert.Equal(t, 3, s.Pending())

	assert.NoError(t, s.SendOne())
	assert.Equal(t, []byte("a"), mock.written)
	assert.Equal(t, 2, s.Pending())

	assert.NoError(t, s.SendOne())
	assert.NoError(t, s.SendOne())
	assert.Equal(t, []byte("abc"), mock.written)
	assert.Equal(t, 0, s.Pending())
}

func TestSerialSendOneNoopWhenEmpty(t *testing.T) {
	mock := &scriptedTransport{}
	s := NewSerialWithTransport("/dev/ttyUSB0", mock, zap.NewNop())

	assert.NoError(t, s.SendOne())
	assert.Empty(t, mock.written)
}

func TestSerialWriteErrorClosesEndpoint(t *testing.T) {
	mock := &scriptedTransport{wErr: errors.New("input/output error")}
	s := NewSerialWithTransport("/dev/ttyUSB0", mock, zap.NewNop())

	s.EnqueueOut([]byte("x"))
	assert.Error(t, s.SendOne())
	assert.False(t, s.Alive())
	assert.True(t, mock.isClosed())
}

func TestSerialEnqueueDroppedAfterClose(t *testing.T) {
	mock := &scriptedTransport{}
	s := NewSerialWithTransport("/dev/ttyUSB0", mock, zap.NewNop())

	s.Close()
	s.EnqueueOut([]byte("late"))
	assert.Equal(t, 0, s.Pending())
	assert.False(t, s.Writable())
}

func TestSerialCloseIsIdempotent(t *testing.T) {
	mock := &scriptedTransport{}
	s := NewSerialWithTransport("/dev/ttyUSB0", mock, zap.NewNop())

	s.Close()
	s.Close()
	assert.False(t, s.Alive())
	assert.False(t, s.Readable())
}
