package core

// replyRoute is where a processed request is answered.
type replyRoute struct {
	target   *Task
	msgType  MessageType
	priority Priority
}

// Reply is the payload of a reply message: the request that completed.
// Handlers exchange results through a pointer payload on the request.
type Reply struct {
	Request *Message
}

// PostAndReply posts request to t. Once t's handler has processed it without
// failure, a fire-and-forget message of replyType carrying a *Reply is posted
// to replyTo. A failed or dropped request produces no reply.
//
// The request must not be waitable; wait on the reply instead.
func (t *Task) PostAndReply(request *Message, replyTo *Task, replyType MessageType, replyPriority Priority) error {
	if request == nil {
		return newInvalidStateError("cannot post a nil message")
	}
	if replyTo == nil {
		return t.Post(request, Infinite)
	}
	if request.IsWaitable() {
		return newInvalidStateError("PostAndReply needs a fire-and-forget request")
	}
	if request.Type().IsControl() {
		return newInvalidStateError("control messages cannot be replied to")
	}

	request.reply = &replyRoute{
		target:   replyTo,
		msgType:  replyType,
		priority: replyPriority,
	}
	return t.Post(request, Infinite)
}

// deliverReply runs on t's worker after msg is processed.
func (t *Task) deliverReply(msg *Message) {
	route := msg.reply
	if msg.Err() != nil {
		t.cfg.Logger.Debug("request failed, reply skipped",
			F("task", t.name),
			F("message_id", msg.ID().String()),
		)
		return
	}

	// Replying to ourselves must never block the worker on a full queue.
	timeout := Infinite
	if route.target == t {
		timeout = 0
	}

	reply := NewMessage(route.msgType, route.priority, &Reply{Request: msg})
	if err := route.target.enqueue(reply, timeout); err != nil {
		t.cfg.Logger.Warn("cannot deliver reply",
			F("task", t.name),
			F("reply_task", route.target.Name()),
			F("error", err),
		)
	}
}
