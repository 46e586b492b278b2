package http

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func readRequest(t *testing.T, msg string, limits Limits) (*Request, error) {
	t.Helper()
	var req Request
	err := req.Read(bufio.NewReader(strings.NewReader(msg)), limits)
	return &req, err
}

func TestRequestRead(t *testing.T) {
	req, err := readRequest(t, "GET /test?a=1 HTTP/1.1\r\nAccept: text/css\r\nconnection: keep-alive\r\nContent-Length: 0\r\n\r\n", Limits{})
	require.NoError(t, err)

	require.Equal(t, "GET", req.Method)
	require.Equal(t, "/test", req.Path)
	require.Equal(t, "a=1", req.Query)
	require.Equal(t, "HTTP/1.1", req.Proto)
	require.Equal(t, "keep-alive", req.Header("Connection"))
	require.Equal(t, "text/css", req.Headers.Get("accept"))
	require.True(t, req.KeepAlive)
	require.Empty(t, req.Body)
}

func TestRequestRead_KeepAlive(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want bool
	}{
		{"http/1.1 default", "GET / HTTP/1.1\r\n\r\n", true},
		{"http/1.1 close", "GET / HTTP/1.1\r\nConnection: Close\r\n\r\n", false},
		{"http/1.1 token list", "GET / HTTP/1.1\r\nConnection: upgrade, close\r\n\r\n", false},
		{"http/1.0 default", "GET / HTTP/1.0\r\n\r\n", false},
		{"http/1.0 keep-alive", "GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := readRequest(t, tt.msg, Limits{})
			require.NoError(t, err)
			require.Equal(t, tt.want, req.KeepAlive)
		})
	}
}

func TestRequestRead_Body(t *testing.T) {
	req, err := readRequest(t, "POST /upload HTTP/1.1\r\nContent-Length: 11\r\n\r\nhello world", Limits{})
	require.NoError(t, err)
	require.Equal(t, "hello world", string(req.Body))

	req, err = readRequest(t, "POST /upload HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n5;ext=1\r\nhello\r\n6\r\n world\r\n0\r\nX-Trailer: yes\r\n\r\n", Limits{})
	require.NoError(t, err)
	require.Equal(t, "hello world", string(req.Body))
}

func TestRequestRead_Pipelined(t *testing.T) {
	msg := "POST /a HTTP/1.1\r\nContent-Length: 3\r\n\r\nabc" +
		"GET /b HTTP/1.1\r\n\r\n" +
		"\r\nGET /c HTTP/1.1\r\n\r\n"
	reader := bufio.NewReader(strings.NewReader(msg))

	var paths []string
	for {
		var req Request
		err := req.Read(reader, Limits{})
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		paths = append(paths, req.Path)
	}
	require.Equal(t, []string{"/a", "/b", "/c"}, paths)
}

func TestRequestRead_Errors(t *testing.T) {
	tests := []struct {
		name   string
		msg    string
		limits Limits
		err    error
		status uint16
	}{
		{"missing target", "GET\r\n\r\n", Limits{}, ErrBadRequest, StatusBadRequest},
		{"bad method", "G(T / HTTP/1.1\r\n\r\n", Limits{}, ErrBadRequest, StatusBadRequest},
		{"bad header", "GET / HTTP/1.1\r\nNo colon\r\n\r\n", Limits{}, ErrBadRequest, StatusBadRequest},
		{"space in header name", "GET / HTTP/1.1\r\nBad Name: x\r\n\r\n", Limits{}, ErrBadRequest, StatusBadRequest},
		{"protocol", "GET / HTTP/2.0\r\n\r\n", Limits{}, ErrUnsupportedProtocol, StatusHTTPVersionNotSupported},
		{"cl and te", "POST / HTTP/1.1\r\nContent-Length: 1\r\nTransfer-Encoding: chunked\r\n\r\n", Limits{}, ErrBadRequest, StatusBadRequest},
		{"conflicting cl", "POST / HTTP/1.1\r\nContent-Length: 1\r\nContent-Length: 2\r\n\r\n", Limits{}, ErrBadRequest, StatusBadRequest},
		{"bad cl", "POST / HTTP/1.1\r\nContent-Length: -1\r\n\r\n", Limits{}, ErrBadRequest, StatusBadRequest},
		{"header too large", "GET / HTTP/1.1\r\nX-Big: " + strings.Repeat("a", 128) + "\r\n\r\n", Limits{MaxHeaderBytes: 64}, ErrHeaderTooLarge, StatusRequestHeaderFieldsTooLarge},
		{"body too large", "POST / HTTP/1.1\r\nContent-Length: 10\r\n\r\n0123456789", Limits{MaxBodyBytes: 4}, ErrBodyTooLarge, StatusRequestEntityTooLarge},
		{"chunked too large", "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n", Limits{MaxBodyBytes: 4}, ErrBodyTooLarge, StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readRequest(t, tt.msg, tt.limits)
			require.ErrorIs(t, err, tt.err)
			require.True(t, isRequestError(err))
			require.Equal(t, tt.status, statusForRequestError(err))
		})
	}
}

func TestRequestRead_Transport(t *testing.T) {
	_, err := readRequest(t, "", Limits{})
	require.ErrorIs(t, err, io.EOF)

	_, err = readRequest(t, "GET / HTTP/1.1\r\nHost: x", Limits{})
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.False(t, isRequestError(err))

	_, err = readRequest(t, "POST / HTTP/1.1\r\nContent-Length: 10\r\n\r\nabc", Limits{})
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func BenchmarkRequestRead(b *testing.B) {
	reqMsg := []byte("GET /test HTTP/1.1\r\nAccept: text/css\r\nConnection: keep-alive\r\nContent-Length: 0\r\n\r\n")
	var req Request

	reader := bytes.NewReader(reqMsg)
	br := bufio.NewReader(reader)

	for b.Loop() {
		reader.Reset(reqMsg)
		br.Reset(reader)

		if err := req.Read(br, Limits{}); err != nil {
			b.Error(err)
		}
	}
}
