package spawn_test

// ============================================================================
// Re-exec helper process pattern: spawn.Spawn starts a real OS subprocess,
// so these tests re-exec the test binary itself as the child via TestMain,
// same as internal/pool and internal/scheduler.
// ============================================================================

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"testing"

	"github.com/ChuLiYu/workerpool/internal/registry"
	"github.com/ChuLiYu/workerpool/internal/spawn"
	"github.com/ChuLiYu/workerpool/internal/wire"
	"github.com/ChuLiYu/workerpool/internal/worker"
	"github.com/ChuLiYu/workerpool/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	registry.Register("spawn_test.upper", func(arg []byte) ([]byte, error) {
		var s string
		if err := gob.NewDecoder(bytes.NewReader(arg)).Decode(&s); err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		upper := ""
		for _, r := range s {
			if r >= 'a' && r <= 'z' {
				r -= 'a' - 'A'
			}
			upper += string(r)
		}
		if err := gob.NewEncoder(&buf).Encode(upper); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})
}

func TestMain(m *testing.M) {
	if os.Getenv(spawn.ChildModeEnv) != "" {
		if err := worker.RunChild(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func selfExePath(t *testing.T) string {
	t.Helper()
	p, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	return p
}

func TestEncodeDecodeParamsRoundTrip(t *testing.T) {
	params := types.WorkerParams{
		LongLived: true,
		Entry: types.EntryState{
			WorkerID: types.WorkerID(3),
		},
	}

	encoded, err := spawn.EncodeParams(params)
	require.NoError(t, err)

	decoded, err := spawn.DecodeParams(encoded)
	require.NoError(t, err)
	assert.Equal(t, params, decoded)
}

func TestDecodeParamsRejectsGarbage(t *testing.T) {
	_, err := spawn.DecodeParams("not-valid-base64!!!")
	assert.Error(t, err)
}

func TestSpawnRunsRealChildRoundTrip(t *testing.T) {
	child, err := spawn.Spawn(selfExePath(t), types.WorkerParams{LongLived: true})
	require.NoError(t, err)
	defer child.Kill()

	conn := wire.NewConn(child.Channel)

	argBlob, err := encodeGobString("hello")
	require.NoError(t, err)

	err = conn.WriteRequest(&wire.Request{EntryTag: "spawn_test.upper", Arg: argBlob})
	require.NoError(t, err)

	resp, err := conn.ReadResponse()
	require.NoError(t, err)
	require.True(t, resp.OK, resp.ErrMsg)

	var got string
	require.NoError(t, gob.NewDecoder(bytes.NewReader(resp.Value)).Decode(&got))
	assert.Equal(t, "HELLO", got)

	require.NoError(t, child.Channel.Close())
	_, err = child.Wait()
	assert.NoError(t, err)
}

func TestChildKillIsObservedByWait(t *testing.T) {
	child, err := spawn.Spawn(selfExePath(t), types.WorkerParams{LongLived: true})
	require.NoError(t, err)

	require.NoError(t, child.Kill())

	state, err := child.Wait()
	require.Error(t, err)
	require.NotNil(t, state)
	assert.False(t, state.Success())
}

func encodeGobString(s string) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
