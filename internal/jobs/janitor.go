package jobs

import (
	"time"

	"github.com/rs/zerolog/log"
)

// LockTrimmer releases per-session serialization locks that have sat idle.
type LockTrimmer interface {
	TrimIdleLocks(idle time.Duration) int
}

// ClientCounter reports realtime gateway occupancy.
type ClientCounter interface {
	TotalClients() int
}

// JanitorJob periodically trims idle turn locks so the per-session lock map
// does not grow with every session ever chatted in, and logs gateway
// occupancy while it is at it.
type JanitorJob struct {
	runner   LockTrimmer
	hub      ClientCounter
	interval time.Duration
	done     chan struct{}
}

func NewJanitorJob(runner LockTrimmer, hub ClientCounter, interval time.Duration) *JanitorJob {
	return &JanitorJob{
		runner:   runner,
		hub:      hub,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *JanitorJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("janitor job started")
}

func (j *JanitorJob) Stop() {
	close(j.done)
	log.Info().Msg("janitor job stopped")
}

func (j *JanitorJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *JanitorJob) sweep() {
	trimmed := j.runner.TrimIdleLocks(j.interval)
	if trimmed > 0 {
		log.Info().Int("count", trimmed).Msg("trimmed idle session locks")
	}
	log.Debug().Int("clients", j.hub.TotalClients()).Msg("gateway occupancy")
}
