package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookup(t *testing.T) {
	Register("registry_test.echo", func(arg []byte) ([]byte, error) {
		return arg, nil
	})

	fn, ok := Lookup("registry_test.echo")
	require.True(t, ok)
	out, err := fn([]byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), out)
}

func TestLookupUnknownTag(t *testing.T) {
	_, ok := Lookup("registry_test.nope")
	assert.False(t, ok)
}

func TestRegisterDuplicateTagPanics(t *testing.T) {
	Register("registry_test.dup", func(arg []byte) ([]byte, error) { return nil, nil })
	assert.Panics(t, func() {
		Register("registry_test.dup", func(arg []byte) ([]byte, error) { return nil, nil })
	})
}

func TestDispatchUnknownTagErrors(t *testing.T) {
	_, err := Dispatch("registry_test.missing", nil)
	assert.Error(t, err)
}

func TestDispatchAppliesWrapper(t *testing.T) {
	Register("registry_test.wrapped", func(arg []byte) ([]byte, error) {
		return append(arg, 'x'), nil
	})

	var seenTag string
	SetWrapper(func(tag string, fn Func) Func {
		seenTag = tag
		return func(arg []byte) ([]byte, error) {
			out, err := fn(arg)
			if err != nil {
				return nil, err
			}
			return append(out, 'y'), nil
		}
	})
	t.Cleanup(func() { SetWrapper(nil) })

	out, err := Dispatch("registry_test.wrapped", []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, "registry_test.wrapped", seenTag)
	assert.Equal(t, []byte("axy"), out)
}

func TestDispatchWithoutWrapperRunsBare(t *testing.T) {
	SetWrapper(nil)
	Register("registry_test.bare", func(arg []byte) ([]byte, error) {
		return arg, nil
	})

	out, err := Dispatch("registry_test.bare", []byte("z"))
	require.NoError(t, err)
	assert.Equal(t, []byte("z"), out)
}
