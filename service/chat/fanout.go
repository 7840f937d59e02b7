package chat

import (
	"PetChat/logger"
)

type fanoutJob struct {
	sessions []*Session
	payload  []byte
}

// Fanout is the broadcast worker pool: recipient lists are snapshotted under
// the registry lock, the per-recipient writes happen here.
type Fanout struct {
	jobs chan fanoutJob
}

func NewFanout(workers, queue int) *Fanout {
	if workers <= 0 {
		workers = 2
	}
	if queue <= 0 {
		queue = 64
	}
	f := &Fanout{jobs: make(chan fanoutJob, queue)}
	for i := 0; i < workers; i++ {
		go func() {
			for job := range f.jobs {
				for _, s := range job.sessions {
					if err := s.sendPayload(job.payload); err != nil {
						// Dead peer: its own read loop handles cleanup.
						logger.Debugf("[Fanout] write to %s failed: %v", s.UserID, err)
					}
				}
			}
		}()
	}
	return f
}

// Broadcast queues payload for every session in the list. A full queue drops
// the broadcast rather than blocking a read loop.
func (f *Fanout) Broadcast(sessions []*Session, payload []byte) {
	if len(sessions) == 0 || len(payload) == 0 {
		return
	}
	select {
	case f.jobs <- fanoutJob{sessions: sessions, payload: payload}:
	default:
		logger.Warnf("[Fanout] queue full, dropping broadcast to %d sessions", len(sessions))
	}
}

func (f *Fanout) Close() { close(f.jobs) }
