package lockfile_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/bitcaskdb/lockfile"
)

func TestAcquireReleaseRoundtrip(t *testing.T) {
	dir := t.TempDir()

	l, err := lockfile.Acquire(lockfile.Write, dir)
	require.NoError(t, err)

	owner, _, found, err := lockfile.Check(lockfile.Write, dir)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, lockfile.Identity(), owner)

	require.NoError(t, l.Release())

	_, _, found, err = lockfile.Check(lockfile.Write, dir)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSecondAcquireFailsWhileHeld(t *testing.T) {
	dir := t.TempDir()

	l, err := lockfile.Acquire(lockfile.Write, dir)
	require.NoError(t, err)
	defer l.Release()

	_, err = lockfile.Acquire(lockfile.Write, dir)
	assert.ErrorIs(t, err, lockfile.ErrLocked)
}

func TestUpdateRecordsActiveFilename(t *testing.T) {
	dir := t.TempDir()

	l, err := lockfile.Acquire(lockfile.Write, dir)
	require.NoError(t, err)
	defer l.Release()

	require.NoError(t, l.Update("123.bitcask.data"))

	_, active, found, err := lockfile.Check(lockfile.Write, dir)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "123.bitcask.data", active)
}

func TestMergeAndWriteLocksAreIndependent(t *testing.T) {
	dir := t.TempDir()

	wl, err := lockfile.Acquire(lockfile.Write, dir)
	require.NoError(t, err)
	defer wl.Release()

	ml, err := lockfile.Acquire(lockfile.Merge, dir)
	require.NoError(t, err)
	defer ml.Release()
}
