package discord

import (
	"sync"
)

// queueDepth bounds the backlog of one guild before Dispatch blocks
const queueDepth = 256

// guildQueues runs events of each guild on its own goroutine, in arrival
// order. A slow guild only delays others once its backlog is full.
type guildQueues struct {
	handle func(VoiceEvent)

	mu     sync.Mutex
	queues map[string]chan VoiceEvent
	closed bool
	wg     sync.WaitGroup
}

func newGuildQueues(handle func(VoiceEvent)) *guildQueues {
	return &guildQueues{handle: handle, queues: make(map[string]chan VoiceEvent)}
}

// Dispatch enqueues ev behind earlier events of the same guild. It reports
// false once the queues are closed.
func (q *guildQueues) Dispatch(ev VoiceEvent) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	ch, ok := q.queues[ev.GuildID]
	if !ok {
		ch = make(chan VoiceEvent, queueDepth)
		q.queues[ev.GuildID] = ch
		q.wg.Add(1)
		go q.run(ch)
	}
	// Sending under the lock keeps Close from closing ch mid-send
	ch <- ev
	q.mu.Unlock()
	return true
}

func (q *guildQueues) run(ch <-chan VoiceEvent) {
	defer q.wg.Done()
	for ev := range ch {
		q.handle(ev)
	}
}

// Close stops accepting events and waits until every queued one is handled
func (q *guildQueues) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, ch := range q.queues {
		close(ch)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
