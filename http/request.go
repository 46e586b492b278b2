package http

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/freekieb7/causeway/pipeline"
)

var (
	ErrBadRequest          = errors.New("http: malformed request")
	ErrHeaderTooLarge      = errors.New("http: request header too large")
	ErrBodyTooLarge        = errors.New("http: request body too large")
	ErrUnsupportedProtocol = errors.New("http: unsupported protocol version")
)

// Limits bound what a single request may occupy in memory.
type Limits struct {
	MaxHeaderBytes int
	MaxBodyBytes   int64
}

type Request struct {
	// ID is the position of the request in the connection's pipeline.
	ID pipeline.RequestID

	Method  string
	Path    string
	Query   string
	Proto   string
	Headers Headers

	Body []byte

	// KeepAlive is false when the client asked to close the connection
	// after this request.
	KeepAlive bool

	RemoteAddr string
}

func (req *Request) Header(name string) string {
	return req.Headers.Get(name)
}

func (req *Request) IsHead() bool {
	return req.Method == "HEAD"
}

// Cookies returns the name/value pairs of every Cookie header.
func (req *Request) Cookies() []Cookie {
	var cookies []Cookie
	for _, line := range req.Headers.Values("Cookie") {
		cookies = parseCookieHeader(line, cookies)
	}
	return cookies
}

func (req *Request) Cookie(name string) (Cookie, error) {
	for _, c := range req.Cookies() {
		if c.Name == name {
			return c, nil
		}
	}
	return Cookie{}, ErrNoCookie
}

// Read parses one request from reader. io.EOF is returned when the peer
// closed the connection before sending anything.
func (req *Request) Read(reader *bufio.Reader, limits Limits) error {
	budget := limits.MaxHeaderBytes
	if budget <= 0 {
		budget = DefaultMaxHeaderBytes
	}

	// Ignore at least one empty line before the request line (RFC 9112, 2.2)
	var line []byte
	var err error
	for blank := 0; ; blank++ {
		line, err = readLine(reader, &budget)
		if err != nil {
			if blank == 0 && errors.Is(err, io.EOF) {
				return io.EOF
			}
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if len(line) > 0 {
			break
		}
		if blank > 4 {
			return ErrBadRequest
		}
	}

	if err := req.parseRequestLine(line); err != nil {
		return err
	}

	req.Headers = make(Headers, 8)
	for {
		line, err = readLine(reader, &budget)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if len(line) == 0 {
			break
		}
		if err := req.parseHeaderLine(line); err != nil {
			return err
		}
	}

	if req.Proto == protocolHTTP11 {
		req.KeepAlive = !req.Headers.hasToken("Connection", "close")
	} else {
		req.KeepAlive = req.Headers.hasToken("Connection", "keep-alive")
	}

	maxBody := limits.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return req.readBody(reader, maxBody, limits.MaxHeaderBytes)
}

func (req *Request) parseRequestLine(line []byte) error {
	method, rest, ok := bytes.Cut(line, []byte{' '})
	if !ok || len(method) == 0 {
		return fmt.Errorf("%w: request line %q", ErrBadRequest, line)
	}
	target, proto, ok := bytes.Cut(rest, []byte{' '})
	if !ok || len(target) == 0 {
		return fmt.Errorf("%w: request line %q", ErrBadRequest, line)
	}
	for _, c := range method {
		if !isTokenChar(c) {
			return fmt.Errorf("%w: method %q", ErrBadRequest, method)
		}
	}

	switch string(proto) {
	case protocolHTTP11:
		req.Proto = protocolHTTP11
	case protocolHTTP10:
		req.Proto = protocolHTTP10
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedProtocol, proto)
	}

	req.Method = string(method)
	path, query, _ := bytes.Cut(target, []byte{'?'})
	req.Path = string(path)
	req.Query = string(query)
	return nil
}

func (req *Request) parseHeaderLine(line []byte) error {
	i := bytes.IndexByte(line, ':')
	if i <= 0 {
		return fmt.Errorf("%w: header line %q", ErrBadRequest, line)
	}
	for _, c := range line[:i] {
		if !isTokenChar(c) {
			return fmt.Errorf("%w: header name %q", ErrBadRequest, line[:i])
		}
	}
	req.Headers.Add(string(line[:i]), trimOWS(string(line[i+1:])))
	return nil
}

func (req *Request) readBody(reader *bufio.Reader, maxBody int64, maxLine int) error {
	te := req.Headers.Values("Transfer-Encoding")
	cl := req.Headers.Values("Content-Length")

	if len(te) > 0 {
		if len(cl) > 0 {
			return fmt.Errorf("%w: both Content-Length and Transfer-Encoding present", ErrBadRequest)
		}
		if !equalFoldASCII(trimOWS(te[len(te)-1]), "chunked") {
			return fmt.Errorf("%w: unsupported transfer coding %q", ErrBadRequest, te[len(te)-1])
		}
		body, err := readChunked(reader, maxBody, maxLine)
		if err != nil {
			return err
		}
		req.Body = body
		return nil
	}

	if len(cl) == 0 {
		return nil
	}

	var length int64 = -1
	for _, v := range cl {
		n, err := atoi([]byte(trimOWS(v)))
		if err != nil {
			return fmt.Errorf("%w: Content-Length %q", ErrBadRequest, v)
		}
		if length >= 0 && n != length {
			return fmt.Errorf("%w: conflicting Content-Length values", ErrBadRequest)
		}
		length = n
	}
	if length > maxBody {
		return ErrBodyTooLarge
	}
	if length == 0 {
		return nil
	}

	req.Body = make([]byte, length)
	if _, err := io.ReadFull(reader, req.Body); err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}

func (req *Request) Reset() {
	*req = Request{}
}

func readChunked(reader *bufio.Reader, maxBody int64, maxLine int) ([]byte, error) {
	if maxLine <= 0 {
		maxLine = DefaultMaxHeaderBytes
	}

	var body []byte
	for {
		budget := maxLine
		line, err := readLine(reader, &budget)
		if err != nil {
			return nil, err
		}
		// Strip chunk extensions: "<hex>;<ext>"
		if i := bytes.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		size, err := parseHex(bytes.TrimSpace(line))
		if err != nil {
			return nil, fmt.Errorf("%w: chunk size %q", ErrBadRequest, line)
		}
		if size == 0 {
			break
		}
		if int64(len(body))+size > maxBody {
			return nil, ErrBodyTooLarge
		}

		start := len(body)
		body = append(body, make([]byte, size)...)
		if _, err := io.ReadFull(reader, body[start:]); err != nil {
			return nil, io.ErrUnexpectedEOF
		}

		budget = 2
		if line, err = readLine(reader, &budget); err != nil || len(line) != 0 {
			return nil, fmt.Errorf("%w: missing CRLF after chunk", ErrBadRequest)
		}
	}

	// Trailers are read and discarded
	budget := maxLine
	for {
		line, err := readLine(reader, &budget)
		if err != nil {
			return nil, err
		}
		if len(line) == 0 {
			return body, nil
		}
	}
}

// readLine returns the next line without its CRLF (or bare LF) terminator,
// charging its length against budget.
func readLine(reader *bufio.Reader, budget *int) ([]byte, error) {
	var line []byte
	for {
		frag, err := reader.ReadSlice('\n')
		*budget -= len(frag)
		if *budget < 0 {
			return nil, ErrHeaderTooLarge
		}
		if err == nil {
			if line == nil {
				line = frag
			} else {
				line = append(line, frag...)
			}
			break
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			if len(line)+len(frag) > 0 && errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		line = append(line, frag...)
	}

	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line, nil
}

// isRequestError reports whether err was caused by what the client sent, as
// opposed to the transport failing.
func isRequestError(err error) bool {
	return errors.Is(err, ErrBadRequest) ||
		errors.Is(err, ErrHeaderTooLarge) ||
		errors.Is(err, ErrBodyTooLarge) ||
		errors.Is(err, ErrUnsupportedProtocol)
}

func statusForRequestError(err error) uint16 {
	switch {
	case errors.Is(err, ErrHeaderTooLarge):
		return StatusRequestHeaderFieldsTooLarge
	case errors.Is(err, ErrBodyTooLarge):
		return StatusRequestEntityTooLarge
	case errors.Is(err, ErrUnsupportedProtocol):
		return StatusHTTPVersionNotSupported
	default:
		return StatusBadRequest
	}
}
