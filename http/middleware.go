package http

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

type Middleware func(next Handler) Handler

// RecoverMiddleware turns a panicking handler into a 500 response.
func RecoverMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx *RequestCtx) {
			defer func() {
				if r := recover(); r != nil {
					recoverResponse(ctx, r)
				}
			}()

			next(ctx)
		}
	}
}

// LoggingMiddleware logs every request once its handler returned.
func LoggingMiddleware(log *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx *RequestCtx) {
			start := time.Now()
			next(ctx)

			log.InfoContext(ctx.Context(), "request handled",
				slog.String("method", ctx.Request.Method),
				slog.String("path", ctx.Request.Path),
				slog.Uint64("request.id", uint64(ctx.Request.ID)),
				slog.Int("status", int(ctx.Response.StatusCode())),
				slog.Duration("duration", time.Since(start)),
			)
		}
	}
}

func recoverResponse(ctx *RequestCtx, r any) {
	ctx.Logger().ErrorContext(ctx.Context(), "handler panicked",
		slog.String("panic", fmt.Sprint(r)),
		slog.String("stack", string(debug.Stack())),
	)

	res := ctx.Response
	res.mu.Lock()
	fresh := res.state == stateFresh
	if fresh {
		res.body = nil
		res.Headers = Headers{"Content-Type": {"text/plain; charset=utf-8"}}
		res.Status = StatusInternalServerError
	}
	res.mu.Unlock()

	if fresh {
		res.WithBytes([]byte("something went wrong"))
		_ = res.Send()
		return
	}

	// head is already out, a status can no longer be sent
	res.mu.Lock()
	defer res.mu.Unlock()
	if res.state == stateStreaming {
		res.abortLocked(errHandlerPanic)
	}
}
