package http

import "strings"

type Route struct {
	Methods []string
	Path    string
	Handler Handler
}

var NotFoundHandler Handler = func(ctx *RequestCtx) {
	ctx.Response.WithStatus(StatusNotFound).WithText(StatusText(StatusNotFound))
}

func methodNotAllowedHandler(allowed []string) Handler {
	allow := strings.Join(allowed, ", ")
	return func(ctx *RequestCtx) {
		ctx.Response.
			WithStatus(StatusMethodNotAllowed).
			WithHeader("Allow", allow).
			WithText(StatusText(StatusMethodNotAllowed))
	}
}
