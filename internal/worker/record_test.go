package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/workerpool/internal/spawn"
	"github.com/ChuLiYu/workerpool/pkg/types"
)

func TestNewRecord(t *testing.T) {
	rec := NewRecord(types.WorkerID(3), true)
	assert.Equal(t, types.WorkerID(3), rec.ID())
	assert.True(t, rec.LongLived())
	assert.False(t, rec.IsBusy())
	assert.False(t, rec.IsForceQuit())
	assert.Nil(t, rec.Child())
}

func TestMarkBusyThenFree(t *testing.T) {
	rec := NewRecord(types.WorkerID(0), true)

	require.NoError(t, rec.MarkBusy())
	assert.True(t, rec.IsBusy())

	err := rec.MarkBusy()
	assert.ErrorIs(t, err, types.ErrWorkerBusy)

	require.NoError(t, rec.MarkFree())
	assert.False(t, rec.IsBusy())
}

func TestMarkFreeOnIdleWorkerErrors(t *testing.T) {
	rec := NewRecord(types.WorkerID(0), true)
	err := rec.MarkFree()
	assert.Error(t, err)
}

func TestMarkBusyAfterForceQuitErrors(t *testing.T) {
	rec := NewRecord(types.WorkerID(0), true)
	rec.MarkForceQuit()

	err := rec.MarkBusy()
	assert.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrWorkerBusy)
}

func TestMarkForceQuitIsIdempotent(t *testing.T) {
	rec := NewRecord(types.WorkerID(0), true)
	require.NoError(t, rec.MarkBusy())

	rec.MarkForceQuit()
	rec.MarkForceQuit()

	assert.True(t, rec.IsForceQuit())
	assert.False(t, rec.IsBusy())
}

func TestHandleRoundTrip(t *testing.T) {
	rec := NewRecord(types.WorkerID(0), true)
	assert.Nil(t, rec.GetHandleUnsafe())

	h := &ErasedHandle{CallID: types.CallID(42), Payload: "placeholder"}
	rec.SetHandle(h)
	assert.Same(t, h, rec.GetHandleUnsafe())

	require.NoError(t, rec.MarkBusy())
	require.NoError(t, rec.MarkFree())
	assert.Nil(t, rec.GetHandleUnsafe())
}

func TestAttachDetachChild(t *testing.T) {
	rec := NewRecord(types.WorkerID(0), false)
	assert.Nil(t, rec.Child())

	rec.AttachChild(&spawn.Child{})
	assert.NotNil(t, rec.Child())

	rec.DetachChild()
	assert.Nil(t, rec.Child())
}
