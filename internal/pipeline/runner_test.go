package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProcessor struct {
	mu      sync.Mutex
	active  int
	peak    map[string]int
	calls   []string
	block   time.Duration
	err     error
	doPanic bool
}

func newRecordingProcessor() *recordingProcessor {
	return &recordingProcessor{peak: map[string]int{}}
}

func (p *recordingProcessor) Process(_ context.Context, sessionID, _ string, _ Event) error {
	p.mu.Lock()
	p.active++
	if p.active > p.peak[sessionID] {
		p.peak[sessionID] = p.active
	}
	p.calls = append(p.calls, sessionID)
	p.mu.Unlock()

	if p.block > 0 {
		time.Sleep(p.block)
	}

	p.mu.Lock()
	p.active--
	p.mu.Unlock()

	if p.doPanic {
		panic("boom")
	}
	return p.err
}

func TestRunner(t *testing.T) {
	t.Run("runs the turn and finishes before Wait returns", func(t *testing.T) {
		proc := newRecordingProcessor()
		r := NewRunner(proc, &fakeBroadcaster{}, time.Second)

		r.Enqueue("s1", "acct", Event{InvokeAI: true})
		r.Wait()

		assert.Equal(t, []string{"s1"}, proc.calls)
	})

	t.Run("serializes turns for the same session", func(t *testing.T) {
		proc := newRecordingProcessor()
		proc.block = 20 * time.Millisecond
		r := NewRunner(proc, &fakeBroadcaster{}, time.Second)

		for i := 0; i < 4; i++ {
			r.Enqueue("s1", "acct", Event{InvokeAI: true})
		}
		r.Wait()

		assert.Len(t, proc.calls, 4)
		assert.Equal(t, 1, proc.peak["s1"])
	})

	t.Run("broadcasts a generic notice when the turn errors", func(t *testing.T) {
		proc := newRecordingProcessor()
		proc.err = errors.New("database gone")
		b := &fakeBroadcaster{}
		r := NewRunner(proc, b, time.Second)

		r.Enqueue("s1", "acct", Event{InvokeAI: true})
		r.Wait()

		assert.Equal(t, []string{NoticeGenericError}, b.contents())
	})

	t.Run("recovers from a panicking turn", func(t *testing.T) {
		proc := newRecordingProcessor()
		proc.doPanic = true
		b := &fakeBroadcaster{}
		r := NewRunner(proc, b, time.Second)

		r.Enqueue("s1", "acct", Event{InvokeAI: true})
		r.Wait()

		assert.Equal(t, []string{NoticeGenericError}, b.contents())
	})
}

func TestTrimIdleLocks(t *testing.T) {
	t.Run("removes only idle locks", func(t *testing.T) {
		proc := newRecordingProcessor()
		r := NewRunner(proc, &fakeBroadcaster{}, time.Second)

		r.Enqueue("s1", "acct", Event{InvokeAI: true})
		r.Enqueue("s2", "acct", Event{InvokeAI: true})
		r.Wait()

		assert.Equal(t, 0, r.TrimIdleLocks(time.Hour))
		require.Equal(t, 2, r.TrimIdleLocks(0))
		assert.Equal(t, 0, r.TrimIdleLocks(0))
	})

	t.Run("skips a lock held by a running turn", func(t *testing.T) {
		proc := newRecordingProcessor()
		proc.block = 50 * time.Millisecond
		r := NewRunner(proc, &fakeBroadcaster{}, time.Second)

		r.Enqueue("s1", "acct", Event{InvokeAI: true})
		time.Sleep(10 * time.Millisecond) // let the turn take the lock

		assert.Equal(t, 0, r.TrimIdleLocks(0))
		r.Wait()
		assert.Equal(t, 1, r.TrimIdleLocks(0))
	})
}
