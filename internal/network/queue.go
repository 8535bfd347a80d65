package network

import "sync"

// frameQueue buffers encoded frames for the writer goroutine and bounds
// them by total size as well as count. A WorldChunkLoad runs to hundreds of
// kilobytes, so a count limit alone lets one slow client pin a lot of
// memory.
type frameQueue struct {
	mu     sync.Mutex
	space  *sync.Cond
	frames chan []byte
	bytes  int
	limit  int
	closed bool
}

func newFrameQueue(depth, limit int) *frameQueue {
	q := &frameQueue{
		frames: make(chan []byte, depth),
		limit:  limit,
	}
	q.space = sync.NewCond(&q.mu)
	return q
}

// push queues a frame, blocking while the queue is over its byte budget.
// A frame larger than the whole budget is accepted once the queue is empty.
func (q *frameQueue) push(frame []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.closed && q.bytes > 0 && q.bytes+len(frame) > q.limit {
		q.space.Wait()
	}
	if q.closed {
		return ErrSocketClosed
	}
	q.bytes += len(frame)
	q.frames <- frame
	return nil
}

// release returns a written or dropped frame's bytes to the budget.
func (q *frameQueue) release(n int) {
	q.mu.Lock()
	q.bytes -= n
	q.mu.Unlock()
	q.space.Broadcast()
}

// close stops new pushes and wakes blocked senders. Frames already queued
// are still delivered to the reader of frames. It reports false when the
// queue was already closed.
func (q *frameQueue) close() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.closed = true
	close(q.frames)
	q.space.Broadcast()
	return true
}

// queued returns the bytes waiting for the writer.
func (q *frameQueue) queued() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes
}
