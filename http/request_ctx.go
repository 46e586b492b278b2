package http

import (
	"context"
	"log/slog"
)

// RequestCtx bundles a request with its response. It is owned by the
// goroutine running the handler; a detached handler may hand it to another
// goroutine that finishes the response later.
type RequestCtx struct {
	Request  *Request
	Response *Response

	ctx      context.Context
	logger   *slog.Logger
	detached bool
}

func newRequestCtx(ctx context.Context, req *Request, res *Response, logger *slog.Logger) *RequestCtx {
	return &RequestCtx{
		Request:  req,
		Response: res,
		ctx:      ctx,
		logger:   logger,
	}
}

// Context is cancelled when the connection goes away.
func (reqCtx *RequestCtx) Context() context.Context {
	return reqCtx.ctx
}

func (reqCtx *RequestCtx) Logger() *slog.Logger {
	return reqCtx.logger
}

// Detach keeps the response open after the handler returns. The caller
// becomes responsible for calling Response.Send; a request timeout still
// applies.
func (reqCtx *RequestCtx) Detach() {
	reqCtx.detached = true
}
