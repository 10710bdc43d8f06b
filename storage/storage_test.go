// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBPutGetDeleteBatch(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	v, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	b := db.NewBatch()
	require.NoError(t, b.Put([]byte("b"), []byte("2")))
	require.NoError(t, b.Delete([]byte("a")))
	require.NoError(t, b.Commit(true))

	_, err = db.Get([]byte("a"))
	require.ErrorIs(t, err, ErrNotFound)
	v, err = db.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v)
}

func TestMemDBIterPrefix(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Put([]byte("acct/1"), []byte("x")))
	require.NoError(t, db.Put([]byte("acct/2"), []byte("y")))
	require.NoError(t, db.Put([]byte("other/1"), []byte("z")))

	it := db.NewIter([]byte("acct/"))
	defer it.Close()
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.Equal(t, []string{"acct/1", "acct/2"}, keys)
}

func TestWALAppendReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWAL(dir, FsyncAlways)
	require.NoError(t, err)

	payloads := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, p := range payloads {
		_, _, err := w.Append(p)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	var got [][]byte
	require.NoError(t, Replay(dir, func(p []byte) error {
		got = append(got, append([]byte{}, p...))
		return nil
	}))
	require.Equal(t, payloads, got)
}

func TestWALDiscardsTornTrailingRecord(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWAL(dir, FsyncAlways)
	require.NoError(t, err)
	_, _, err = w.Append([]byte("good"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// simulate a crash mid-write: append a header claiming a payload that
	// never arrives.
	f, err := os.OpenFile(filepath.Join(dir, "00000000.log"), os.O_RDWR|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0, 0, 0, 10, 0, 0, 0, 0, 'p', 'a'})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var got [][]byte
	require.NoError(t, Replay(dir, func(p []byte) error {
		got = append(got, append([]byte{}, p...))
		return nil
	}))
	require.Equal(t, [][]byte{[]byte("good")}, got)
}

func TestWALTruncateRemovesOldSegments(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWAL(dir, FsyncBatch)
	require.NoError(t, err)
	_, _, err = w.Append([]byte("a"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, Truncate(dir, 1))
	var got [][]byte
	require.NoError(t, Replay(dir, func(p []byte) error {
		got = append(got, p)
		return nil
	}))
	require.Empty(t, got)
}
