package main

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zfair/zuid/zerrors"
)

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(ioutil.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestGen(t *testing.T) {
	file := filepath.Join(t.TempDir(), "types.toml")

	out, err := execute("gen", "--file", file, "Foo", "Bar")
	require.NoError(t, err)
	assert.Equal(t, "Foo=0\nBar=1\n", out)

	out, err = execute("gen", "-f", file, "--start", "23", "Bar", "Baz")
	require.NoError(t, err)
	assert.Equal(t, "Bar=1\nBaz=23\n", out)

	buf, err := ioutil.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "Foo=0\nBar=1\nBaz=23\n", string(buf))
}

func TestGenNarrowing(t *testing.T) {
	file := filepath.Join(t.TempDir(), "types.toml")

	_, err := execute("gen", "-f", file, "--start", "300", "--type", "u8", "Wide")
	var narrowing *zerrors.NarrowingError
	require.True(t, errors.As(err, &narrowing), "%v", err)
	assert.Equal(t, uint64(300), narrowing.ID)

	// the record is kept even though it did not fit
	out, err := execute("lookup", "-f", file, "Wide")
	require.NoError(t, err)
	assert.Equal(t, "300\n", out)

	_, err = execute("gen", "-f", file, "--type", "f32", "Other")
	assert.True(t, errors.Is(err, zerrors.ErrUnknownIDType))
}

func TestGenInvalidName(t *testing.T) {
	file := filepath.Join(t.TempDir(), "types.toml")
	_, err := execute("gen", "-f", file, "a=b")
	assert.True(t, errors.Is(err, zerrors.ErrInvalidName))
}

func TestLookupAndList(t *testing.T) {
	file := filepath.Join(t.TempDir(), "types.toml")
	require.NoError(t, ioutil.WriteFile(file, []byte("B=5\nA=2\nC=9\n"), 0644))

	out, err := execute("lookup", "-f", file, "A")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	_, err = execute("lookup", "-f", file, "Missing")
	assert.True(t, errors.Is(err, zerrors.ErrRecordNotFound))

	out, err = execute("list", "-f", file)
	require.NoError(t, err)
	assert.Equal(t, "A=2\nB=5\nC=9\n", out)

	out, err = execute("list", "-f", filepath.Join(t.TempDir(), "none.toml"))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSeq(t *testing.T) {
	out, err := execute("seq", "-n", "3")
	require.NoError(t, err)
	assert.Equal(t, "0\n1\n2\n", out)

	out, err = execute("seq")
	require.NoError(t, err)
	assert.Equal(t, "0\n", out)
}

func TestBadLogLevel(t *testing.T) {
	file := filepath.Join(t.TempDir(), "types.toml")
	_, err := execute("gen", "-f", file, "--log-level", "loud", "Foo")
	assert.Error(t, err)
}
