package service

import (
	"sync"

	"github.com/noah-isme/academic-records-api/internal/dto"
)

const progressBuffer = 8

// ProgressBroker fans export job progress out to in-process subscribers.
type ProgressBroker struct {
	mu   sync.RWMutex
	subs map[string]map[chan dto.ReportProgressEvent]struct{}
}

// NewProgressBroker builds an empty broker.
func NewProgressBroker() *ProgressBroker {
	return &ProgressBroker{subs: make(map[string]map[chan dto.ReportProgressEvent]struct{})}
}

// Subscribe registers interest in jobID. The returned func unsubscribes and closes the channel.
func (b *ProgressBroker) Subscribe(jobID string) (<-chan dto.ReportProgressEvent, func()) {
	ch := make(chan dto.ReportProgressEvent, progressBuffer)
	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[chan dto.ReportProgressEvent]struct{})
	}
	b.subs[jobID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[jobID], ch)
			if len(b.subs[jobID]) == 0 {
				delete(b.subs, jobID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers event to current subscribers. Slow subscribers drop events.
func (b *ProgressBroker) Publish(event dto.ReportProgressEvent) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[event.JobID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribers returns the number of listeners for jobID.
func (b *ProgressBroker) Subscribers(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[jobID])
}
