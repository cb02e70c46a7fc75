package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autumn/modules/debounce"
)

type fakeNotifier struct {
	mu     sync.Mutex
	added  []string
	events chan fsnotify.Event
	errors chan error
	closed bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		events: make(chan fsnotify.Event, 64),
		errors: make(chan error, 1),
	}
}

func (f *fakeNotifier) Add(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, path)
	return nil
}

func (f *fakeNotifier) Events() <-chan fsnotify.Event { return f.events }
func (f *fakeNotifier) Errors() <-chan error          { return f.errors }

func (f *fakeNotifier) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeNotifier) Added() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.added...)
}

func fixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src", "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "a.js"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "nested", "b.js"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "c.txt"), []byte("c"), 0o644))
	return dir
}

func TestDisabledRunsOnceWithoutSubscriptions(t *testing.T) {
	dir := fixture(t)
	factoryCalls := 0
	w := New(debounce.New(50*time.Millisecond), WithNotifierFactory(func() (Notifier, error) {
		factoryCalls++
		return newFakeNotifier(), nil
	}))

	calls := 0
	s, err := w.Watch(context.Background(), []string{filepath.Join(dir, "src/**/*.js")}, func() { calls++ }, false)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, factoryCalls)
	assert.Equal(t, 0, s.Subscriptions())

	select {
	case <-s.Done():
	default:
		t.Fatal("disabled session should already be finished")
	}
	require.NoError(t, s.Close())
}

func TestEnabledSubscribesPerFile(t *testing.T) {
	dir := fixture(t)
	n := newFakeNotifier()
	w := New(debounce.New(time.Hour), WithNotifierFactory(func() (Notifier, error) { return n, nil }))

	var calls atomic.Int32
	s, err := w.Watch(context.Background(), []string{filepath.Join(dir, "src/**/*.js")}, func() { calls.Add(1) }, true)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, int32(1), calls.Load(), "initial build runs at registration")
	assert.Equal(t, 2, s.Subscriptions())
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "src", "a.js"),
		filepath.Join(dir, "src", "nested", "b.js"),
	}, n.Added())
}

// Leading-edge cooldown: a storm fires once at its start, later
// notifications inside the window are dropped even though they describe
// newer changes, and the first notification after the window fires again.
func TestNotificationStormTriggersOnce(t *testing.T) {
	dir := fixture(t)
	n := newFakeNotifier()
	quiet := 300 * time.Millisecond
	w := New(debounce.New(quiet), WithNotifierFactory(func() (Notifier, error) { return n, nil }))

	var calls atomic.Int32
	s, err := w.Watch(context.Background(), []string{filepath.Join(dir, "src/*.js")}, func() { calls.Add(1) }, true)
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, int32(1), calls.Load())

	path := filepath.Join(dir, "src", "a.js")
	ops := []fsnotify.Op{fsnotify.Write, fsnotify.Create, fsnotify.Chmod, fsnotify.Write}
	for i := 0; i < 10; i++ {
		n.events <- fsnotify.Event{Name: path, Op: ops[i%len(ops)]}
	}

	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(quiet / 3)
	assert.Equal(t, int32(2), calls.Load())

	time.Sleep(quiet)
	n.events <- fsnotify.Event{Name: path, Op: fsnotify.Write}
	require.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, 5*time.Millisecond)
}

func TestCloseEndsSession(t *testing.T) {
	dir := fixture(t)
	n := newFakeNotifier()
	gate := debounce.New(time.Hour)
	w := New(gate, WithNotifierFactory(func() (Notifier, error) { return n, nil }))

	s, err := w.Watch(context.Background(), []string{filepath.Join(dir, "src/*.js")}, func() {}, true)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s.Wait()
	n.mu.Lock()
	assert.True(t, n.closed)
	n.mu.Unlock()
	assert.False(t, gate.Notify(s.ID), "group is unregistered")
}

func TestContextCancelEndsSession(t *testing.T) {
	dir := fixture(t)
	n := newFakeNotifier()
	w := New(debounce.New(time.Hour), WithNotifierFactory(func() (Notifier, error) { return n, nil }))

	ctx, cancel := context.WithCancel(context.Background())
	s, err := w.Watch(ctx, []string{filepath.Join(dir, "src/*.js")}, func() {}, true)
	require.NoError(t, err)

	cancel()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not stop on cancel")
	}
}

func TestGroupsAreIndependent(t *testing.T) {
	dir := fixture(t)
	gate := debounce.New(time.Hour)
	w := New(gate, WithNotifierFactory(func() (Notifier, error) { return newFakeNotifier(), nil }))

	s1, err := w.Watch(context.Background(), []string{filepath.Join(dir, "src/*.js")}, func() {}, true)
	require.NoError(t, err)
	defer s1.Close()
	s2, err := w.Watch(context.Background(), []string{filepath.Join(dir, "src/*.txt")}, func() {}, true)
	require.NoError(t, err)
	defer s2.Close()

	assert.NotEqual(t, s1.ID, s2.ID)
	assert.True(t, gate.Notify(s1.ID))
	assert.True(t, gate.Notify(s2.ID))
}

func TestFSNotifyIntegration(t *testing.T) {
	dir := fixture(t)
	w := New(debounce.New(100 * time.Millisecond))

	var calls atomic.Int32
	s, err := w.Watch(context.Background(), []string{filepath.Join(dir, "src/*.js")}, func() { calls.Add(1) }, true)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "a.js"), []byte("changed"), 0o644))
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}
