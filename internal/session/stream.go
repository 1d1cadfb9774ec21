package session

import "sync"

// Stream is the output of one generation: a finite, non-restartable sequence
// of text fragments. Fragments are handed over one at a time; the producer
// does not step the engine again until the previous fragment was taken.
//
// Consume either with Next or by ranging over Chunks, not both. A cancelled
// stream ends cleanly with a nil Err.
type Stream struct {
	id   uint64
	ch   chan string
	done chan struct{}

	stop     chan struct{}
	stopOnce sync.Once

	mu        sync.Mutex
	err       error
	cancelled bool
	delivered int
}

func newStream(id uint64) *Stream {
	return &Stream{
		id:   id,
		ch:   make(chan string),
		done: make(chan struct{}),
		stop: make(chan struct{}),
	}
}

// ID returns the generation id this stream belongs to.
func (st *Stream) ID() uint64 { return st.id }

// Next blocks for the next fragment. ok is false once the stream has ended.
// After a cancel request Next returns nothing more: a fragment still in the
// hand-off is dropped and Next waits for the producer to settle.
func (st *Stream) Next() (string, bool) {
	frag, ok := <-st.ch
	if !ok {
		return "", false
	}
	if st.stopRequested() {
		st.drop()
		for range st.ch {
			st.drop()
		}
		return "", false
	}
	return frag, true
}

// Chunks exposes the fragment channel for select loops. It is closed when the
// stream ends. A loop that cancels the generation should stop reading it
// right away, as Next does.
func (st *Stream) Chunks() <-chan string { return st.ch }

// Done is closed after the stream ended and the session settled.
func (st *Stream) Done() <-chan struct{} { return st.done }

// Wait blocks until the stream ends and returns Err.
func (st *Stream) Wait() error {
	<-st.done
	return st.Err()
}

// Err returns the *EngineError that ended the stream, if any.
func (st *Stream) Err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

// Cancelled reports whether the stream ended because of a cancel request.
func (st *Stream) Cancelled() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cancelled
}

// Delivered is the number of fragments handed to the consumer.
func (st *Stream) Delivered() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.delivered
}

// drop uncounts a fragment the producer handed over after a cancel request.
func (st *Stream) drop() {
	st.mu.Lock()
	st.delivered--
	st.mu.Unlock()
}

func (st *Stream) requestStop() { st.stopOnce.Do(func() { close(st.stop) }) }

func (st *Stream) stopRequested() bool {
	select {
	case <-st.stop:
		return true
	default:
		return false
	}
}

func (st *Stream) finish(err error, cancelled bool) {
	st.mu.Lock()
	st.err = err
	st.cancelled = cancelled
	st.mu.Unlock()
	close(st.ch)
	close(st.done)
}
