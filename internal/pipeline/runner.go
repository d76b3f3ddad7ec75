package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Processor is satisfied by *Pipeline.
type Processor interface {
	Process(ctx context.Context, sessionID, accountID string, ev Event) error
}

// Runner executes turns in the background, one at a time per session.
// Turns for different sessions run concurrently; turns for the same session
// queue on that session's lock so history reads and writes never interleave.
type Runner struct {
	processor   Processor
	broadcaster Broadcaster
	timeout     time.Duration

	mu    sync.Mutex
	locks map[string]*sessionLock
	wg    sync.WaitGroup
}

type sessionLock struct {
	mu       sync.Mutex
	lastUsed time.Time
}

func NewRunner(processor Processor, broadcaster Broadcaster, timeout time.Duration) *Runner {
	return &Runner{
		processor:   processor,
		broadcaster: broadcaster,
		timeout:     timeout,
		locks:       make(map[string]*sessionLock),
	}
}

func (r *Runner) lockFor(sessionID string) *sessionLock {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.locks[sessionID]
	if !ok {
		lock = &sessionLock{}
		r.locks[sessionID] = lock
	}
	lock.lastUsed = time.Now()
	return lock
}

// Enqueue starts the turn in the background and returns immediately. The
// turn gets its own deadline detached from the connection that sent it, so
// a client disconnect does not abort a turn already paid for.
func (r *Runner) Enqueue(sessionID, accountID string, ev Event) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		lock := r.lockFor(sessionID)
		lock.mu.Lock()
		defer lock.mu.Unlock()

		defer func() {
			if rec := recover(); rec != nil {
				log.Error().
					Str("sessionId", sessionID).
					Interface("panic", rec).
					Msg("turn panicked")
				r.notifyFailure(sessionID)
			}
		}()

		if err := r.processor.Process(ctx, sessionID, accountID, ev); err != nil {
			log.Error().Err(err).Str("sessionId", sessionID).Msg("turn failed")
			r.notifyFailure(sessionID)
		}
	}()
}

func (r *Runner) notifyFailure(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.broadcaster.Publish(ctx, sessionID, SystemNotice(NoticeGenericError)); err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to broadcast error notice")
	}
}

// TrimIdleLocks drops session locks unused for at least idle and returns
// how many were removed. Locks held by a running turn are skipped.
func (r *Runner) TrimIdleLocks(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for sessionID, lock := range r.locks {
		if time.Since(lock.lastUsed) < idle {
			continue
		}
		if !lock.mu.TryLock() {
			continue
		}
		lock.mu.Unlock()
		delete(r.locks, sessionID)
		removed++
	}
	return removed
}

// Wait blocks until every enqueued turn has finished. Used on shutdown.
func (r *Runner) Wait() {
	r.wg.Wait()
}
