package http

import "net/http"

type Router struct {
	Routes     []Route
	Middleware []Middleware
	NotFound   Handler
}

func NewRouter() Router {
	return Router{
		Routes:   make([]Route, 0),
		NotFound: NotFoundHandler,
	}
}

func (router *Router) GET(path string, handler Handler, middleware ...Middleware) {
	router.Any([]string{http.MethodGet}, path, handler, middleware...)
}

func (router *Router) HEAD(path string, handler Handler, middleware ...Middleware) {
	router.Any([]string{http.MethodHead}, path, handler, middleware...)
}

func (router *Router) POST(path string, handler Handler, middleware ...Middleware) {
	router.Any([]string{http.MethodPost}, path, handler, middleware...)
}

func (router *Router) PUT(path string, handler Handler, middleware ...Middleware) {
	router.Any([]string{http.MethodPut}, path, handler, middleware...)
}

func (router *Router) PATCH(path string, handler Handler, middleware ...Middleware) {
	router.Any([]string{http.MethodPatch}, path, handler, middleware...)
}

func (router *Router) DELETE(path string, handler Handler, middleware ...Middleware) {
	router.Any([]string{http.MethodDelete}, path, handler, middleware...)
}

func (router *Router) OPTIONS(path string, handler Handler, middleware ...Middleware) {
	router.Any([]string{http.MethodOptions}, path, handler, middleware...)
}

func (router *Router) Any(methods []string, path string, handler Handler, middleware ...Middleware) {
	for _, middleware := range middleware {
		handler = middleware(handler)
	}

	router.Routes = append(router.Routes, Route{
		Methods: methods,
		Path:    path,
		Handler: handler,
	})
}

func (router *Router) Group(path string, groupFunc func(group *Router), middlewareList ...Middleware) {
	group := NewRouter()

	groupFunc(&group)

	for _, route := range group.Routes {
		route.Path = path + route.Path
		for _, middleware := range middlewareList {
			route.Handler = middleware(route.Handler)
		}

		router.Routes = append(router.Routes, route)
	}
}

// Handler resolves routes by exact path. HEAD falls back to a GET route and
// a path known under other methods answers 405.
func (router *Router) Handler() Handler {
	notFound := router.NotFound
	if notFound == nil {
		notFound = NotFoundHandler
	}

	var handler Handler = func(ctx *RequestCtx) {
		var allowed []string
		var fallback Handler
		for _, route := range router.Routes {
			if route.Path != ctx.Request.Path {
				continue
			}

			for _, method := range route.Methods {
				if method == ctx.Request.Method {
					route.Handler(ctx)
					return
				}
				if method == http.MethodGet && ctx.Request.Method == http.MethodHead {
					fallback = route.Handler
				}
				allowed = append(allowed, method)
			}
		}

		switch {
		case fallback != nil:
			fallback(ctx)
		case len(allowed) > 0:
			methodNotAllowedHandler(allowed)(ctx)
		default:
			notFound(ctx)
		}
	}

	for i := len(router.Middleware) - 1; i >= 0; i-- {
		handler = router.Middleware[i](handler)
	}
	return handler
}
