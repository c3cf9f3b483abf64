package types

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorfMatchesKindSentinel(t *testing.T) {
	err := Errorf(ErrKindNotFound, "probe map %s: %w", "p.bin", fs.ErrNotExist)

	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.NotErrorIs(t, err, ErrFormat)
	assert.Equal(t, "probe map p.bin: file does not exist", err.Error())

	k, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrKindNotFound, k)
}

func TestKindOfWrapped(t *testing.T) {
	err := errors.Join(errors.New("other"), Errorf(ErrKindProtocol, "no ack"))
	k, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrKindProtocol, k)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestErrKindString(t *testing.T) {
	assert.Equal(t, "session timeout", ErrKindSessionTimeout.String())
	assert.Equal(t, "ErrKind(99)", ErrKind(99).String())
}

func TestErrorText(t *testing.T) {
	e := &Error{Kind: ErrKindConfig, Msg: "watchdog", Err: errors.New("must be positive")}
	assert.Equal(t, "watchdog: must be positive", e.Error())
	assert.Equal(t, "invalid configuration", ErrConfig.Error())
}

func TestDescriptorKey(t *testing.T) {
	a := FunctionDescriptor{Name: "memcpy", Location: 0x401000, Binary: "/lib/libc.so.6"}
	b := a
	assert.Equal(t, a.Key(), b.Key())

	b.Location++
	assert.NotEqual(t, a.Key(), b.Key())

	// The separator keeps name and binary from bleeding into each other.
	c := FunctionDescriptor{Name: "ab", Binary: "c"}
	d := FunctionDescriptor{Name: "a", Binary: "bc"}
	assert.NotEqual(t, c.Key(), d.Key())
}

func TestDescriptorString(t *testing.T) {
	d := FunctionDescriptor{Name: "strlen", Location: 0x1f00, Binary: "a.out"}
	assert.Equal(t, "strlen@0x1f00 (a.out)", d.String())
	assert.True(t, d.Named())
	assert.False(t, FunctionDescriptor{Location: 1}.Named())
}
