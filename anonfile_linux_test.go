//go:build linux

package wlwin

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func fdSize(t *testing.T, fd int) int64 {
	t.Helper()
	var st unix.Stat_t
	require.NoError(t, unix.Fstat(fd, &st))
	return st.Size
}

func TestCreateAnonymousMemfd(t *testing.T) {
	dir := t.TempDir()
	f, err := CreateAnonymous(4096, dir, "wlwin-test", HintMemfd)
	require.NoError(t, err)
	defer f.Release()

	assert.GreaterOrEqual(t, f.Fd(), 0)
	assert.Equal(t, int64(4096), f.Size())
	assert.Equal(t, int64(4096), fdSize(t, f.Fd()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCreateAnonymousFileIsUnlinked(t *testing.T) {
	dir := t.TempDir()
	f, err := CreateAnonymous(8192, dir, "wlwin-test", HintFile)
	require.NoError(t, err)
	defer f.Release()

	assert.Equal(t, int64(8192), fdSize(t, f.Fd()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "backing file must not stay visible")
}

func TestCreateAnonymousInvalidSize(t *testing.T) {
	for _, size := range []int64{0, -1} {
		_, err := CreateAnonymous(size, t.TempDir(), "wlwin-test", HintMemfd)
		require.Error(t, err)
		assert.Equal(t, KindInvalidArgument, KindOf(err))
	}
}

func TestCreateAnonymousMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	_, err := CreateAnonymous(4096, dir, "wlwin-test", HintFile)
	require.Error(t, err)
	assert.ErrorIs(t, err, unix.ENOENT)
}

func TestFillTemplate(t *testing.T) {
	name := fillTemplate("/tmp/prefix-XXXXXX")
	require.True(t, strings.HasPrefix(name, "/tmp/prefix-"))
	suffix := strings.TrimPrefix(name, "/tmp/prefix-")
	assert.Len(t, suffix, 6)
	assert.NotEqual(t, "XXXXXX", suffix)
	for _, c := range suffix {
		assert.Contains(t, templateChars, string(c))
	}
}

func TestAnonymousFileTakeAndRelease(t *testing.T) {
	f, err := CreateAnonymous(4096, t.TempDir(), "wlwin-test", HintMemfd)
	require.NoError(t, err)

	fd := f.Fd()
	moved := f.Take()
	assert.Equal(t, -1, f.Fd())
	assert.Equal(t, fd, moved.Fd())
	assert.Equal(t, int64(4096), moved.Size())

	require.NoError(t, f.Release(), "releasing an empty file is a no-op")
	require.NoError(t, moved.Release())
	require.NoError(t, moved.Release())
	assert.Equal(t, -1, moved.Fd())

	var nilFile *AnonymousFile
	assert.Equal(t, -1, nilFile.Fd())
	assert.NoError(t, nilFile.Release())
}
