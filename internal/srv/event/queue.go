package event

const DefaultQueueSize = 128

// Queue is the single action channel shared by every producer
// (device workers, scheduler callbacks, api handlers) and consumed by the dispatcher only.
type Queue struct {
	messages chan Message
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{messages: make(chan Message, size)}
}

// Push enqueues an action. It blocks while the queue is full.
func (q *Queue) Push(action Action) {
	q.messages <- action
}

// Shutdown enqueues the shutdown request behind every pending action.
func (q *Queue) Shutdown() {
	q.messages <- Shutdown{}
}

// Messages is the receive side, reserved to the dispatcher.
func (q *Queue) Messages() <-chan Message {
	return q.messages
}

func (q *Queue) Len() int {
	return len(q.messages)
}
