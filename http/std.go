package http

import (
	"io"
	nethttp "net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/freekieb7/causeway/pipeline"
)

// StdHandler exposes the routes through net/http, for embedding them into an
// existing net/http server. Requests are traced with otelhttp; there is no
// pipelining since net/http serializes requests on a connection itself.
func (router *Router) StdHandler() nethttp.Handler {
	handler := router.Handler()

	return otelhttp.NewHandler(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		req := &Request{
			Method:     r.Method,
			Path:       r.URL.Path,
			Query:      r.URL.RawQuery,
			Proto:      r.Proto,
			Headers:    Headers(r.Header),
			KeepAlive:  !r.Close,
			RemoteAddr: r.RemoteAddr,
		}
		if r.Body != nil {
			body, err := io.ReadAll(io.LimitReader(r.Body, DefaultMaxBodyBytes+1))
			if err != nil {
				nethttp.Error(w, StatusText(StatusBadRequest), nethttp.StatusBadRequest)
				return
			}
			if len(body) > DefaultMaxBodyBytes {
				nethttp.Error(w, StatusText(StatusRequestEntityTooLarge), nethttp.StatusRequestEntityTooLarge)
				return
			}
			req.Body = body
		}

		res := newResponse(req, nil, "")
		res.std = w
		ctx := newRequestCtx(r.Context(), req, res, logger)

		handler(ctx)
		if ctx.detached {
			select {
			case <-res.Done():
			case <-r.Context().Done():
			}
		}
		if err := res.Send(); err != nil && err != ErrResponseFinished {
			logger.DebugContext(r.Context(), "std: sending response failed", "error", err)
		}
	}), "causeway")
}

// renderStd writes the buffered response through a net/http ResponseWriter.
func (res *Response) renderStd(status uint16, headers Headers, final bool) error {
	w := res.std
	if res.state == stateFresh {
		h := w.Header()
		for name, values := range headers {
			if name == "Connection" || name == "Transfer-Encoding" {
				continue
			}
			h[name] = values
		}
		if res.closeConn {
			h.Set("Connection", "close")
		}
		w.WriteHeader(int(status))
		res.state = stateStreaming
	}

	body := res.body
	res.body = nil

	var written int64
	var err error
	for _, it := range body {
		var n int64
		switch it.Kind() {
		case pipeline.KindBytes:
			var m int
			m, err = w.Write(it.Buf())
			n = int64(m)
		case pipeline.KindFile:
			f, offset, length := it.File()
			n, err = io.Copy(w, io.NewSectionReader(f, offset, length))
		}
		written += n
		if err != nil {
			break
		}
	}

	if !final {
		if flusher, ok := w.(nethttp.Flusher); ok {
			flusher.Flush()
		}
		return err
	}

	cb := res.completion()
	res.finish()
	if cb != nil {
		cb(written, err)
	}
	return err
}
