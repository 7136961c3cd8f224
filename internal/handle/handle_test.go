package handle

import (
	"bytes"
	"encoding/gob"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/workerpool/internal/wire"
	"github.com/ChuLiYu/workerpool/pkg/types"
)

// fakeConn lets tests drive GetResult without a real child process.
type fakeConn struct {
	resp    *wire.Response
	err     error
	fd      int
	reads   int32
}

func (f *fakeConn) ReadResponse() (*wire.Response, error) {
	atomic.AddInt32(&f.reads, 1)
	return f.resp, f.err
}

func (f *fakeConn) ReadFD() int { return f.fd }

func encodeGob(t *testing.T, v any) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(v))
	return buf.Bytes()
}

func TestGetResultSuccess(t *testing.T) {
	conn := &fakeConn{resp: &wire.Response{OK: true, Value: encodeGob(t, 42)}}

	var consumed int32
	var consumedErr error
	h := New[int, int](types.CallID(1), types.WorkerID(0), 21, conn, 123, func(err error) {
		atomic.AddInt32(&consumed, 1)
		consumedErr = err
	})

	v, err := h.GetResult()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, int32(1), atomic.LoadInt32(&consumed))
	assert.NoError(t, consumedErr)
}

func TestGetResultIsIdempotent(t *testing.T) {
	conn := &fakeConn{resp: &wire.Response{OK: true, Value: encodeGob(t, 7)}}
	h := New[int, int](types.CallID(1), types.WorkerID(0), 1, conn, 1, nil)

	v1, err1 := h.GetResult()
	v2, err2 := h.GetResult()

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&conn.reads))
}

func TestGetResultExplicitFailure(t *testing.T) {
	conn := &fakeConn{resp: &wire.Response{OK: false, ErrMsg: "boom"}}
	h := New[int, int](types.CallID(1), types.WorkerID(0), 1, conn, 55, nil)

	_, err := h.GetResult()
	require.Error(t, err)

	var wf *types.WorkerFailedError
	require.ErrorAs(t, err, &wf)
	assert.Equal(t, 55, wf.PID)
	assert.Equal(t, types.WorkerQuit, wf.Kind)
}

func TestGetResultPassesThroughPreclassifiedFailure(t *testing.T) {
	preclassified := &types.WorkerFailedError{PID: 99, Kind: types.WorkerOOMed}
	conn := &fakeConn{err: preclassified}
	h := New[int, int](types.CallID(1), types.WorkerID(0), 1, conn, 99, nil)

	_, err := h.GetResult()
	assert.Same(t, preclassified, err)
}

func TestGetResultGenericReadFailureWrapsAsQuit(t *testing.T) {
	conn := &fakeConn{err: errors.New("pipe closed")}
	h := New[int, int](types.CallID(1), types.WorkerID(0), 1, conn, 7, nil)

	_, err := h.GetResult()
	var wf *types.WorkerFailedError
	require.ErrorAs(t, err, &wf)
	assert.Equal(t, types.WorkerQuit, wf.Kind)
}

func TestGetResultOnConsumedReceivesFailure(t *testing.T) {
	conn := &fakeConn{resp: &wire.Response{OK: false, ErrMsg: "boom"}}

	var consumedErr error
	h := New[int, int](types.CallID(1), types.WorkerID(0), 1, conn, 55, func(err error) {
		consumedErr = err
	})

	_, err := h.GetResult()
	require.Error(t, err)
	require.Error(t, consumedErr)
	assert.Same(t, err, consumedErr)
}

func TestCancelMarksHandleCancelled(t *testing.T) {
	conn := &fakeConn{resp: &wire.Response{OK: true, Value: encodeGob(t, 0)}}
	h := New[int, int](types.CallID(1), types.WorkerID(0), 1, conn, 1, nil)

	assert.False(t, h.Cancelled())
	h.Cancel()
	assert.True(t, h.Cancelled())
}

func TestCallIDWorkerIDAndJobAccessors(t *testing.T) {
	conn := &fakeConn{resp: &wire.Response{OK: true, Value: encodeGob(t, 0)}}
	h := New[string, int](types.CallID(7), types.WorkerID(2), "payload", conn, 1, nil)

	assert.Equal(t, types.CallID(7), h.CallID())
	assert.Equal(t, types.WorkerID(2), h.WorkerID())
	assert.Equal(t, "payload", h.Job())
}
