package contracts

// ReplyTo implements the reply-queue half of Command. Embed it in command
// types so SetQueueToReply and QueueToReply come for free.
type ReplyTo struct {
	queue string
}

// SetQueueToReply records the queue a responder must reply to.
func (r *ReplyTo) SetQueueToReply(queue string) {
	r.queue = queue
}

// QueueToReply returns the reply queue, empty when the command expects no reply.
func (r *ReplyTo) QueueToReply() string {
	return r.queue
}
