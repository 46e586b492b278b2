package http

import (
	"encoding/json"
	"errors"
	"io"
	nethttp "net/http"
	"os"
	"sync"
	"time"

	"github.com/freekieb7/causeway/pipeline"
)

var ErrResponseFinished = errors.New("http: response already sent")

type responseState uint8

const (
	stateFresh     responseState = iota // nothing handed to the connection yet
	stateStreaming                      // head was flushed, body follows in parts
	stateFinished
)

// sink receives the serialized parts of a response. The connection's sink
// hands them over to the goroutine owning the pipeline coordinator.
type sink interface {
	post(id pipeline.RequestID, flags pipeline.Flags, unit *pipeline.WriteUnit) error
	abort(id pipeline.RequestID, cause error)
}

type Response struct {
	Status  uint16
	Headers Headers

	req        *Request
	serverName string
	out        sink
	std        nethttp.ResponseWriter

	mu        sync.Mutex
	state     responseState
	chunked   bool
	closeConn bool
	body      []pipeline.Item
	files     []io.Closer
	onWritten pipeline.AfterWrite
	timer     *time.Timer
	sent      chan struct{}

	// committed is the status that went out with the head.
	committed uint16
	cancelled bool
}

func newResponse(req *Request, out sink, serverName string) *Response {
	return &Response{
		Status:     StatusOK,
		Headers:    Headers{},
		req:        req,
		serverName: serverName,
		out:        out,
		sent:       make(chan struct{}),
	}
}

// WithStatus and the other setters do nothing once the response finished,
// which includes a response replaced after its request timed out.
func (res *Response) WithStatus(status uint16) *Response {
	res.mu.Lock()
	if res.state != stateFinished {
		res.Status = status
	}
	res.mu.Unlock()
	return res
}

func (res *Response) WithHeader(name, value string) *Response {
	res.mu.Lock()
	if res.state != stateFinished {
		res.Headers.Set(name, value)
	}
	res.mu.Unlock()
	return res
}

func (res *Response) addHeader(name, value string) {
	res.mu.Lock()
	if res.state != stateFinished {
		res.Headers.Add(name, value)
	}
	res.mu.Unlock()
}

func (res *Response) WithText(payload string) *Response {
	res.WithHeader("Content-Type", "text/plain; charset=utf-8")
	res.appendItem(pipeline.String(payload))
	return res
}

func (res *Response) WithJson(payload any) *Response {
	res.WithHeader("Content-Type", "application/json")

	if s, ok := payload.(string); ok {
		res.appendItem(pipeline.String(s))
		return res
	}

	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("response: encoding data to json failed", "error", err)
		res.WithStatus(StatusInternalServerError).WithHeader("Content-Type", "text/plain; charset=utf-8")
		res.appendItem(pipeline.String(StatusText(StatusInternalServerError)))
		return res
	}
	res.appendItem(pipeline.Bytes(append(data, '\n')))
	return res
}

// WithBytes appends b to the body without copying it.
func (res *Response) WithBytes(b []byte) *Response {
	res.appendItem(pipeline.Bytes(b))
	return res
}

// Write appends a copy of p to the body.
func (res *Response) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	res.appendItem(pipeline.Bytes(append([]byte(nil), p...)))
	return len(p), nil
}

// WithFile appends length bytes of f starting at offset. The data is sent
// straight from the file and f is closed once the response is done.
func (res *Response) WithFile(f *os.File, offset, length int64, modTime time.Time) *Response {
	res.mu.Lock()
	defer res.mu.Unlock()

	if res.state == stateFinished {
		_ = f.Close()
		return res
	}
	res.files = append(res.files, f)
	res.body = append(res.body, pipeline.FileSegment(f, offset, length, modTime))
	return res
}

// OnWritten registers cb to learn when the final part of the response has
// been written or dropped. If the connection already dropped the response,
// cb is called right away.
func (res *Response) OnWritten(cb pipeline.AfterWrite) *Response {
	res.mu.Lock()
	cancelled := res.cancelled
	if !cancelled {
		res.onWritten = cb
	}
	res.mu.Unlock()

	if cancelled && cb != nil {
		cb(0, pipeline.ErrWriteNotExecuted)
	}
	return res
}

// Close asks for the connection to be closed after this response.
func (res *Response) Close() *Response {
	res.mu.Lock()
	res.closeConn = true
	res.mu.Unlock()
	return res
}

// Finished reports whether Send completed (or the request timed out).
func (res *Response) Finished() bool {
	res.mu.Lock()
	defer res.mu.Unlock()
	return res.state == stateFinished
}

// StatusCode returns the status that was sent, or the current status when
// nothing was sent yet.
func (res *Response) StatusCode() uint16 {
	res.mu.Lock()
	defer res.mu.Unlock()
	if res.committed != 0 {
		return res.committed
	}
	return res.Status
}

// Done is closed once the final part of the response was handed over.
func (res *Response) Done() <-chan struct{} {
	return res.sent
}

// Flush hands everything buffered so far to the connection. The first flush
// commits the status and headers; the body then uses chunked transfer
// encoding (or is delimited by closing the connection for HTTP/1.0 clients).
func (res *Response) Flush() error {
	res.mu.Lock()
	defer res.mu.Unlock()
	return res.commit(false)
}

// Send hands the remaining response to the connection and marks it final.
func (res *Response) Send() error {
	res.mu.Lock()
	defer res.mu.Unlock()
	return res.commit(true)
}

func (res *Response) appendItem(it pipeline.Item) {
	res.mu.Lock()
	if res.state != stateFinished {
		res.body = append(res.body, it)
	}
	res.mu.Unlock()
}

// arm starts the request timeout. The timer is stored under mu so expire
// and finish always see it.
func (res *Response) arm(d time.Duration) {
	res.mu.Lock()
	defer res.mu.Unlock()
	res.timer = time.AfterFunc(d, res.expire)
}

func (res *Response) commit(final bool) error {
	return res.commitAs(res.Status, res.Headers, final)
}

// commitAs serializes with the given status and headers. The timeout path
// passes its own so it never touches maps a running handler may still use.
func (res *Response) commitAs(status uint16, headers Headers, final bool) error {
	if res.state == stateFinished {
		return ErrResponseFinished
	}
	if res.state == stateFresh {
		res.committed = status
	}
	if res.std != nil {
		return res.renderStd(status, headers, final)
	}

	unit := pipeline.NewWriteUnit()
	if res.state == stateFresh {
		res.chunked = !final && res.req.Proto == protocolHTTP11
		if !final && !res.chunked {
			// HTTP/1.0 streaming bodies end when the connection does
			res.closeConn = true
		}
		head := res.appendHead(make([]byte, 0, 256), status, headers, final)
		unit.Append(pipeline.Bytes(head))
		unit.WithStatusLine(statusLineLen(status))
		res.state = stateStreaming
	}

	body := res.body
	res.body = nil
	if !res.req.IsHead() && bodyAllowedForStatus(status) {
		if res.chunked {
			appendChunk(unit, body)
		} else {
			unit.Append(body...)
		}
	}

	if final {
		if res.chunked && !res.req.IsHead() && bodyAllowedForStatus(status) {
			unit.Append(pipeline.Bytes(chunkEndBytes))
		}
		if unit.Empty() {
			unit.Append(pipeline.Bytes(nil))
		}
		if cb := res.completion(); cb != nil {
			unit.OnComplete(cb)
		}
	} else if unit.Empty() {
		return nil
	}

	flags := pipeline.Flags{Continuation: pipeline.Partial, Connection: pipeline.KeepAlive}
	if final {
		flags.Continuation = pipeline.Final
		res.finish()
	}
	if res.closeConn || !res.req.KeepAlive {
		flags.Connection = pipeline.Close
	}
	return res.out.post(res.req.ID, flags, unit)
}

// appendHead serializes status line and headers. For a response sent in one
// piece the body length is known and goes into Content-Length.
func (res *Response) appendHead(dst []byte, status uint16, headers Headers, final bool) []byte {
	dst = append(dst, statusLineHTTP...)
	dst = appendInt(dst, int64(status))
	dst = append(dst, ' ')
	dst = append(dst, StatusText(status)...)
	dst = append(dst, crlf...)

	for name, values := range headers {
		switch name {
		case "Connection", "Content-Length", "Transfer-Encoding", "Date":
			continue
		}
		for _, v := range values {
			dst = append(dst, name...)
			dst = append(dst, headerNameSep...)
			dst = appendSanitized(dst, v)
			dst = append(dst, crlf...)
		}
	}

	dst = append(dst, headerDate...)
	dst = time.Now().UTC().AppendFormat(dst, TimeFormat)
	dst = append(dst, crlf...)
	if res.serverName != "" {
		dst = append(dst, headerServer...)
		dst = append(dst, res.serverName...)
		dst = append(dst, crlf...)
	}

	if bodyAllowedForStatus(status) {
		if final {
			var n int64
			for _, it := range res.body {
				n += it.Len()
			}
			dst = append(dst, headerContentLength...)
			dst = appendInt(dst, n)
			dst = append(dst, crlf...)
		} else if res.chunked {
			dst = append(dst, headerChunked...)
		}
	}

	switch {
	case res.closeConn || !res.req.KeepAlive:
		dst = append(dst, headerConnectionClose...)
	case res.req.Proto == protocolHTTP10:
		dst = append(dst, headerConnectionKeepAlive...)
	}
	return append(dst, crlf...)
}

// completion releases the files of the response and then notifies the
// registered callback.
func (res *Response) completion() pipeline.AfterWrite {
	files, cb := res.files, res.onWritten
	res.files, res.onWritten = nil, nil
	if len(files) == 0 && cb == nil {
		return nil
	}
	return func(written int64, err error) {
		for _, f := range files {
			_ = f.Close()
		}
		if cb != nil {
			cb(written, err)
		}
	}
}

func (res *Response) finish() {
	res.state = stateFinished
	if res.timer != nil {
		res.timer.Stop()
	}
	close(res.sent)
}

// expire replaces a response that did not start in time with 504 Gateway
// Timeout. A response that already started streaming cannot be replaced,
// so its connection is aborted instead.
func (res *Response) expire() {
	res.mu.Lock()
	defer res.mu.Unlock()

	switch res.state {
	case stateFinished:
		return
	case stateStreaming:
		res.abortLocked(errRequestTimeout)
		return
	}

	if cb := res.completion(); cb != nil {
		cb(0, pipeline.ErrWriteNotExecuted)
	}
	headers := Headers{"Content-Type": {"text/plain; charset=utf-8"}}
	res.body = []pipeline.Item{pipeline.String(StatusText(StatusGatewayTimeout))}
	res.closeConn = true
	if err := res.commitAs(StatusGatewayTimeout, headers, true); err != nil {
		logger.Debug("response: posting timeout response failed", "error", err)
	}
}

// cancel drops a response the connection can no longer send. Its files are
// closed and its callback learns the write did not happen.
func (res *Response) cancel() {
	res.mu.Lock()
	if res.timer != nil {
		res.timer.Stop()
	}
	res.cancelled = true
	if res.state == stateFinished {
		res.mu.Unlock()
		return
	}
	cb := res.completion()
	res.finish()
	res.mu.Unlock()

	if cb != nil {
		cb(0, pipeline.ErrWriteNotExecuted)
	}
}

// abortLocked gives up on a response whose head was already flushed; the
// connection is torn down since the message cannot be completed validly.
func (res *Response) abortLocked(cause error) {
	cb := res.completion()
	res.finish()
	if cb != nil {
		cb(0, pipeline.ErrWriteNotExecuted)
	}
	if res.out != nil {
		res.out.abort(res.req.ID, cause)
	}
}

func appendChunk(unit *pipeline.WriteUnit, items []pipeline.Item) {
	var n int64
	for _, it := range items {
		n += it.Len()
	}
	if n == 0 {
		return
	}
	size := appendHex(make([]byte, 0, 18), n)
	unit.Append(pipeline.Bytes(append(size, crlf...)))
	unit.Append(items...)
	unit.Append(pipeline.Bytes(crlf))
}

// statusLineLen is the length of "HTTP/1.1 <code> <reason>\r\n".
func statusLineLen(code uint16) int {
	return len(statusLineHTTP) + len(appendInt(nil, int64(code))) + 1 + len(StatusText(code)) + len(crlf)
}

// appendSanitized drops CR, LF and other control characters except HTAB so a
// header value cannot split the response.
func appendSanitized(dst []byte, v string) []byte {
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == 0x7f || c < 0x20 && c != '\t' {
			continue
		}
		dst = append(dst, c)
	}
	return dst
}
