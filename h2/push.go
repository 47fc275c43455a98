package h2

// pushEvent is one buffered inbound event of a promised stream.
type pushEvent struct {
	fields    []HeaderField
	data      []byte
	endStream bool
	reset     bool
	code      ErrorCode
	isHeaders bool
}

// PushClient buffers a server-pushed stream until a client request
// with a matching cache key adopts it. The key is the promised
// request's authority + path (query included).
type PushClient struct {
	conn     *Conn
	strm     *Stream
	cacheKey string

	// promised request headers from the PUSH_PROMISE block
	reqFields []HeaderField

	events  []pushEvent
	adopted func(ev pushEvent)
}

// PushCacheKey builds the index key a request must match to adopt a
// pushed stream.
func PushCacheKey(authority, path string) string {
	return authority + path
}

func newPushClient(c *Conn, strm *Stream, reqFields []HeaderField) *PushClient {
	authority, okA := HeaderValue(reqFields, ":authority")
	path, okP := HeaderValue(reqFields, ":path")
	if !okA || !okP {
		// promise without a routable target is useless; drop it
		strm.SendReset(RefusedStreamError)
		return nil
	}

	pc := &PushClient{
		conn:      c,
		strm:      strm,
		cacheKey:  PushCacheKey(authority, path),
		reqFields: reqFields,
	}

	strm.OnHeaders(func(fields []HeaderField, endStream bool) {
		pc.deliver(pushEvent{fields: fields, endStream: endStream, isHeaders: true})
	})
	strm.OnData(func(p []byte, endStream bool) {
		buf := append([]byte(nil), p...)
		pc.deliver(pushEvent{data: buf, endStream: endStream})
	})
	strm.OnReset(func(code ErrorCode) {
		pc.deliver(pushEvent{reset: true, code: code})
		delete(c.pushClients, pc.cacheKey)
	})

	return pc
}

// RequestFields returns the promised request's header list.
func (pc *PushClient) RequestFields() []HeaderField {
	return pc.reqFields
}

// Stream returns the promised stream.
func (pc *PushClient) Stream() *Stream {
	return pc.strm
}

func (pc *PushClient) deliver(ev pushEvent) {
	if pc.adopted != nil {
		pc.adopted(ev)
		return
	}
	pc.events = append(pc.events, ev)
}

// adopt replays every buffered event through sink and routes future
// ones there directly. Runs on the connection loop.
func (pc *PushClient) adopt(sink func(ev pushEvent)) {
	pc.adopted = sink
	for _, ev := range pc.events {
		sink(ev)
	}
	pc.events = nil
}

// Cancel resets the promised stream and drops the buffered events.
func (pc *PushClient) Cancel() {
	pc.strm.SendReset(CancelError)
	pc.events = nil
	delete(pc.conn.pushClients, pc.cacheKey)
}
