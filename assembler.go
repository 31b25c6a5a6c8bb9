package gobayeux

import (
	"bytes"
	"sync"
)

// DefaultMaxResponseSize bounds how much of a single response is buffered
// while waiting for a complete frame
const DefaultMaxResponseSize = 8 << 20

// ResponseAssembler accumulates response bytes per in-flight request until
// they form a complete frame: a top-level JSON array of messages. The map of
// buffers is guarded by a mutex; each buffer is only ever touched by the
// reader of its own request.
type ResponseAssembler struct {
	maxSize int
	codec   Codec

	lock    sync.Mutex
	buffers map[string]*bytes.Buffer
}

// NewResponseAssembler creates a ResponseAssembler. A maxSize of zero or less
// disables the size limit and a nil codec uses JSONCodec.
func NewResponseAssembler(maxSize int, codec Codec) *ResponseAssembler {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &ResponseAssembler{
		maxSize: maxSize,
		codec:   codec,
		buffers: make(map[string]*bytes.Buffer),
	}
}

func (a *ResponseAssembler) buffer(requestID string, create bool) *bytes.Buffer {
	a.lock.Lock()
	defer a.lock.Unlock()
	buf, ok := a.buffers[requestID]
	if !ok && create {
		buf = new(bytes.Buffer)
		a.buffers[requestID] = buf
	}
	return buf
}

// Append adds p to the buffer of requestID. Once the buffer grows past the
// maximum size it fails with ErrFrameTooLarge and the buffer is dropped.
func (a *ResponseAssembler) Append(requestID string, p []byte) error {
	buf := a.buffer(requestID, true)
	if a.maxSize > 0 && buf.Len()+len(p) > a.maxSize {
		a.Release(requestID)
		return &TransportError{Kind: FrameTooLarge, RequestID: requestID, Err: ErrFrameTooLarge}
	}
	buf.Write(p)
	return nil
}

// TryExtractFrames decodes the buffer of requestID. It reports false while
// the buffer does not yet hold a complete frame; parse failures are treated
// as incomplete since more bytes may still arrive.
func (a *ResponseAssembler) TryExtractFrames(requestID string) ([]Message, bool) {
	buf := a.buffer(requestID, false)
	if buf == nil {
		return nil, false
	}

	trimmed := bytes.TrimRight(buf.Bytes(), " \t\r\n")
	if len(trimmed) == 0 || trimmed[len(trimmed)-1] != ']' {
		return nil, false
	}

	messages, err := a.codec.Decode(buf.Bytes())
	if err != nil {
		return nil, false
	}
	return messages, true
}

// Buffered returns how many bytes are held for requestID
func (a *ResponseAssembler) Buffered(requestID string) int {
	if buf := a.buffer(requestID, false); buf != nil {
		return buf.Len()
	}
	return 0
}

// Release drops the buffer of requestID
func (a *ResponseAssembler) Release(requestID string) {
	a.lock.Lock()
	defer a.lock.Unlock()
	delete(a.buffers, requestID)
}

// Pending returns the number of requests with a live buffer
func (a *ResponseAssembler) Pending() int {
	a.lock.Lock()
	defer a.lock.Unlock()
	return len(a.buffers)
}
