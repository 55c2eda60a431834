package server

import (
	"net/http"

	"go.uber.org/fx"
)

type HttpHandler struct {
	// Pattern is the route pattern the handler is registered for.
	Pattern string

	// Mount registers Handler for every path below Pattern, with the
	// prefix stripped from the routing path.
	Mount bool

	Handler http.Handler
}

type HttpHandlerResult struct {
	fx.Out

	Handler *HttpHandler `group:"handlers"`
}

// AsHttpHandler registers handler for exactly pattern.
func AsHttpHandler(
	pattern string,
	handler http.Handler,
) HttpHandlerResult {
	return HttpHandlerResult{
		Handler: &HttpHandler{
			Pattern: pattern,
			Handler: handler,
		},
	}
}

// AsHttpMount registers handler for prefix and everything below it.
func AsHttpMount(
	prefix string,
	handler http.Handler,
) HttpHandlerResult {
	return HttpHandlerResult{
		Handler: &HttpHandler{
			Pattern: prefix,
			Mount:   true,
			Handler: handler,
		},
	}
}
