package steering

// Queue is the FIFO between the channel reader goroutine and the engine
// loop. It is the only state shared between the two; a buffered channel
// preserves arrival order and gives the engine a non-blocking poll.
type Queue struct {
	ch chan Request
}

func NewQueue() *Queue {
	return &Queue{ch: make(chan Request, 256)}
}

// Put enqueues one request. It never blocks: when the engine has fallen
// 256 commands behind the request is dropped and Put reports false, so a
// reader goroutine cannot hang on a loop that stopped polling.
func (q *Queue) Put(r Request) bool {
	select {
	case q.ch <- r:
		return true
	default:
		return false
	}
}

// Poll dequeues at most one request; a None request means the queue was
// empty.
func (q *Queue) Poll() Request {
	select {
	case r := <-q.ch:
		return r
	default:
		return Request{Cmd: None}
	}
}
