package http

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/freekieb7/causeway/pipeline"
)

type posted struct {
	id    pipeline.RequestID
	flags pipeline.Flags
	unit  *pipeline.WriteUnit
}

// recordSink collects what a response hands to its connection.
type recordSink struct {
	mu      sync.Mutex
	posts   []posted
	aborted error
}

func (s *recordSink) post(id pipeline.RequestID, flags pipeline.Flags, unit *pipeline.WriteUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts = append(s.posts, posted{id: id, flags: flags, unit: unit})
	return nil
}

func (s *recordSink) abort(id pipeline.RequestID, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = cause
}

func render(t *testing.T, unit *pipeline.WriteUnit) string {
	t.Helper()
	var buf bytes.Buffer
	_, err := writeUnit(&buf, unit)
	require.NoError(t, err)
	return buf.String()
}

func newTestResponse(method, proto string, keepAlive bool) (*Response, *recordSink) {
	out := &recordSink{}
	req := &Request{ID: 7, Method: method, Path: "/", Proto: proto, Headers: Headers{}, KeepAlive: keepAlive}
	return newResponse(req, out, "causeway"), out
}

func TestResponse_Send(t *testing.T) {
	res, out := newTestResponse("GET", protocolHTTP11, true)
	res.WithText("hello")
	require.NoError(t, res.Send())

	require.Len(t, out.posts, 1)
	p := out.posts[0]
	require.Equal(t, pipeline.RequestID(7), p.id)
	require.Equal(t, pipeline.Flags{Continuation: pipeline.Final, Connection: pipeline.KeepAlive}, p.flags)
	require.Equal(t, len("HTTP/1.1 200 OK\r\n"), p.unit.StatusLineBytes())

	msg := render(t, p.unit)
	require.True(t, strings.HasPrefix(msg, "HTTP/1.1 200 OK\r\n"), msg)
	require.Contains(t, msg, "Content-Length: 5\r\n")
	require.Contains(t, msg, "Content-Type: text/plain; charset=utf-8\r\n")
	require.Contains(t, msg, "Server: causeway\r\n")
	require.Contains(t, msg, "Date: ")
	require.NotContains(t, msg, "Connection:")
	require.True(t, strings.HasSuffix(msg, "\r\n\r\nhello"), msg)

	require.True(t, res.Finished())
	select {
	case <-res.Done():
	default:
		t.Fatal("Done not closed after Send")
	}

	require.ErrorIs(t, res.Send(), ErrResponseFinished)
	require.ErrorIs(t, res.Flush(), ErrResponseFinished)
}

func TestResponse_Streaming(t *testing.T) {
	res, out := newTestResponse("GET", protocolHTTP11, true)

	res.WithText("hello")
	require.NoError(t, res.Flush())
	require.NoError(t, res.Flush()) // nothing buffered, nothing posted
	res.WithText(" world")
	require.NoError(t, res.Send())

	require.Len(t, out.posts, 2)

	head := out.posts[0]
	require.Equal(t, pipeline.Partial, head.flags.Continuation)
	require.NotZero(t, head.unit.StatusLineBytes())
	msg := render(t, head.unit)
	require.Contains(t, msg, "Transfer-Encoding: chunked\r\n")
	require.NotContains(t, msg, "Content-Length")
	require.True(t, strings.HasSuffix(msg, "\r\n\r\n5\r\nhello\r\n"), msg)

	tail := out.posts[1]
	require.Equal(t, pipeline.Final, tail.flags.Continuation)
	require.Zero(t, tail.unit.StatusLineBytes())
	require.Equal(t, "6\r\n world\r\n0\r\n\r\n", render(t, tail.unit))

	// the tail merges into the head while both are queued
	require.True(t, head.unit.TryMerge(tail.unit))
}

func TestResponse_StreamingHTTP10(t *testing.T) {
	res, out := newTestResponse("GET", protocolHTTP10, true)

	res.WithText("part")
	require.NoError(t, res.Flush())
	require.NoError(t, res.Send())

	require.Len(t, out.posts, 2)
	require.Equal(t, pipeline.Close, out.posts[0].flags.Connection)
	require.Equal(t, pipeline.Close, out.posts[1].flags.Connection)

	msg := render(t, out.posts[0].unit)
	require.True(t, strings.HasPrefix(msg, "HTTP/1.1 200 OK\r\n"))
	require.Contains(t, msg, "Connection: close\r\n")
	require.NotContains(t, msg, "chunked")
	require.True(t, strings.HasSuffix(msg, "\r\n\r\npart"))
}

func TestResponse_ConnectionHeader(t *testing.T) {
	res, out := newTestResponse("GET", protocolHTTP10, true)
	require.NoError(t, res.Send())
	require.Contains(t, render(t, out.posts[0].unit), "Connection: keep-alive\r\n")
	require.Equal(t, pipeline.KeepAlive, out.posts[0].flags.Connection)

	res, out = newTestResponse("GET", protocolHTTP11, false)
	require.NoError(t, res.Send())
	require.Contains(t, render(t, out.posts[0].unit), "Connection: close\r\n")
	require.Equal(t, pipeline.Close, out.posts[0].flags.Connection)

	res, out = newTestResponse("GET", protocolHTTP11, true)
	res.Close()
	require.NoError(t, res.Send())
	require.Contains(t, render(t, out.posts[0].unit), "Connection: close\r\n")
	require.Equal(t, pipeline.Close, out.posts[0].flags.Connection)
}

func TestResponse_NoBody(t *testing.T) {
	res, out := newTestResponse("HEAD", protocolHTTP11, true)
	res.WithText("hello")
	require.NoError(t, res.Send())

	msg := render(t, out.posts[0].unit)
	require.Contains(t, msg, "Content-Length: 5\r\n")
	require.True(t, strings.HasSuffix(msg, "\r\n\r\n"), msg)

	res, out = newTestResponse("GET", protocolHTTP11, true)
	res.WithStatus(StatusNoContent).WithText("ignored")
	require.NoError(t, res.Send())

	msg = render(t, out.posts[0].unit)
	require.True(t, strings.HasPrefix(msg, "HTTP/1.1 204 No Content\r\n"))
	require.NotContains(t, msg, "Content-Length")
	require.True(t, strings.HasSuffix(msg, "\r\n\r\n"), msg)
}

func TestResponse_HeaderInjection(t *testing.T) {
	res, out := newTestResponse("GET", protocolHTTP11, true)
	res.WithHeader("X-Name", "a\r\nSet-Cookie: evil=1")
	res.WithHeader("Content-Length", "999")
	require.NoError(t, res.Send())

	msg := render(t, out.posts[0].unit)
	require.Contains(t, msg, "X-Name: aSet-Cookie: evil=1\r\n")
	require.NotContains(t, msg, "\r\nSet-Cookie")
	require.Contains(t, msg, "Content-Length: 0\r\n")
	require.NotContains(t, msg, "999")
}

func TestResponse_Json(t *testing.T) {
	res, out := newTestResponse("GET", protocolHTTP11, true)
	res.WithJson(map[string]int{"n": 1})
	require.NoError(t, res.Send())

	msg := render(t, out.posts[0].unit)
	require.Contains(t, msg, "Content-Type: application/json\r\n")
	require.True(t, strings.HasSuffix(msg, "{\"n\":1}\n"), msg)

	res, out = newTestResponse("GET", protocolHTTP11, true)
	res.WithJson(make(chan int))
	require.NoError(t, res.Send())
	require.True(t, strings.HasPrefix(render(t, out.posts[0].unit), "HTTP/1.1 500 Internal Server Error\r\n"))
}

func TestResponse_OnWrittenAndFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.txt")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))
	f, err := os.Open(path)
	require.NoError(t, err)

	res, out := newTestResponse("GET", protocolHTTP11, true)
	var written int64 = -1
	var gotErr error
	res.WithFile(f, 2, 5, time.Now()).OnWritten(func(n int64, err error) {
		written, gotErr = n, err
	})
	require.NoError(t, res.Send())

	unit := out.posts[0].unit
	require.True(t, unit.HasCallback())

	var buf bytes.Buffer
	n, err := writeUnit(&buf, unit)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(buf.String(), "Content-Length: 5\r\n\r\n23456"), buf.String())

	unit.Complete(n, nil)
	require.Equal(t, n, written)
	require.NoError(t, gotErr)

	// the file was closed by the completion
	_, err = f.Stat()
	require.ErrorIs(t, err, os.ErrClosed)
}

func TestResponse_Expire(t *testing.T) {
	res, out := newTestResponse("GET", protocolHTTP11, true)

	var cbErr error
	res.OnWritten(func(_ int64, err error) { cbErr = err })
	res.WithText("too late")
	res.expire()

	require.ErrorIs(t, cbErr, pipeline.ErrWriteNotExecuted)
	require.Len(t, out.posts, 1)
	require.Equal(t, pipeline.Flags{Continuation: pipeline.Final, Connection: pipeline.Close}, out.posts[0].flags)

	msg := render(t, out.posts[0].unit)
	require.True(t, strings.HasPrefix(msg, "HTTP/1.1 504 Gateway Timeout\r\n"))
	require.Contains(t, msg, "Connection: close\r\n")
	require.NotContains(t, msg, "too late")

	// the handler finishing afterwards is refused
	require.ErrorIs(t, res.Send(), ErrResponseFinished)
}

func TestResponse_ExpireWhileStreaming(t *testing.T) {
	res, out := newTestResponse("GET", protocolHTTP11, true)

	var cbErr error
	res.OnWritten(func(_ int64, err error) { cbErr = err })
	res.WithText("started")
	require.NoError(t, res.Flush())

	res.expire()
	require.Len(t, out.posts, 1)
	require.True(t, errors.Is(out.aborted, errRequestTimeout))
	require.ErrorIs(t, cbErr, pipeline.ErrWriteNotExecuted)
	require.True(t, res.Finished())
}

func TestResponse_ExpireWhileHandlerWrites(t *testing.T) {
	res, out := newTestResponse("GET", protocolHTTP11, true)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			res.WithHeader("X-Step", strconv.Itoa(i)).WithStatus(StatusAccepted).WithText("partial")
		}
	}()

	time.Sleep(5 * time.Millisecond)
	res.expire()
	time.Sleep(5 * time.Millisecond)
	close(stop)
	<-done

	require.ErrorIs(t, res.Send(), ErrResponseFinished)
	require.Equal(t, StatusGatewayTimeout, res.StatusCode())
	require.Len(t, out.posts, 1)

	msg := render(t, out.posts[0].unit)
	require.True(t, strings.HasPrefix(msg, "HTTP/1.1 504 Gateway Timeout\r\n"), msg)
	require.NotContains(t, msg, "X-Step")
	require.NotContains(t, msg, "partial")
}

func TestResponse_Arm(t *testing.T) {
	res, out := newTestResponse("GET", protocolHTTP11, true)
	res.arm(time.Nanosecond)

	select {
	case <-res.Done():
	case <-time.After(time.Second):
		t.Fatal("request timeout did not fire")
	}
	require.Eventually(t, func() bool {
		out.mu.Lock()
		defer out.mu.Unlock()
		return len(out.posts) == 1
	}, time.Second, time.Millisecond)
	require.Equal(t, StatusGatewayTimeout, res.StatusCode())
}

func TestResponse_Cancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.txt")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))
	open := func() *os.File {
		f, err := os.Open(path)
		require.NoError(t, err)
		return f
	}

	res, out := newTestResponse("GET", protocolHTTP11, true)
	var errs []error
	first := open()
	res.WithFile(first, 0, 10, time.Now()).OnWritten(func(_ int64, err error) { errs = append(errs, err) })

	res.cancel()
	require.True(t, res.Finished())
	require.Empty(t, out.posts)
	require.Equal(t, []error{pipeline.ErrWriteNotExecuted}, errs)
	_, err := first.Stat()
	require.ErrorIs(t, err, os.ErrClosed)

	// a handler still holding the response is told right away
	second := open()
	res.WithFile(second, 0, 10, time.Now()).OnWritten(func(_ int64, err error) { errs = append(errs, err) })
	require.Len(t, errs, 2)
	require.ErrorIs(t, errs[1], pipeline.ErrWriteNotExecuted)
	_, err = second.Stat()
	require.ErrorIs(t, err, os.ErrClosed)
	require.ErrorIs(t, res.Send(), ErrResponseFinished)
}

func TestStatusLineLen(t *testing.T) {
	require.Equal(t, len("HTTP/1.1 404 Not Found\r\n"), statusLineLen(StatusNotFound))
	require.Equal(t, len("HTTP/1.1 200 OK\r\n"), statusLineLen(StatusOK))
}
