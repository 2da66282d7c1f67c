package certs

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_InvalidatesOnChange(t *testing.T) {
	dir := t.TempDir()
	first, _ := generateCert(t, "first")
	second, _ := generateCert(t, "second")
	systemFile := writeFile(t, dir, "bundle.crt", first)

	a := testAggregator(t, systemFile, filepath.Join(dir, "none"), nil)
	result, err := a.GetCACertificates(Options{})
	require.NoError(t, err)
	require.Equal(t, 1, result.Count.System)

	w, err := NewWatcher(a, []string{systemFile}, nil)
	require.NoError(t, err)
	w.delay = 10 * time.Millisecond

	var changes atomic.Int32
	w.OnChange = func(string) { changes.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	writeFile(t, dir, "bundle.crt", append(first, second...))

	assert.Eventually(t, func() bool { return changes.Load() > 0 }, 2*time.Second, 10*time.Millisecond)

	result, err = a.GetCACertificates(Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Count.System)
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	certPEM, _ := generateCert(t, "x")
	systemFile := writeFile(t, dir, "bundle.crt", certPEM)

	a := testAggregator(t, systemFile, filepath.Join(dir, "none"), nil)
	w, err := NewWatcher(a, []string{systemFile}, nil)
	require.NoError(t, err)
	defer w.Close()

	assert.False(t, w.relevant(fsEvent(filepath.Join(dir, "other.txt"))))
	assert.True(t, w.relevant(fsEvent(systemFile)))
}

func fsEvent(name string) fsnotify.Event {
	return fsnotify.Event{Name: name, Op: fsnotify.Write}
}
