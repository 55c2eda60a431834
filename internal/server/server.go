package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const defaultReadHeaderTimeout = 10 * time.Second

type HttpServerParams struct {
	fx.In

	Context context.Context

	Config HttpConfig

	Handlers []*HttpHandler `group:"handlers"`
	Logger   *zap.Logger
}

type HttpServer struct {
	address string
	server  *http.Server
	log     *zap.Logger
}

// NewRouter registers handlers on a chi router.
func NewRouter(handlers []*HttpHandler) chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	for _, handler := range handlers {
		if handler.Mount {
			router.Mount(handler.Pattern, handler.Handler)
		} else {
			router.Handle(handler.Pattern, handler.Handler)
		}
	}

	return router
}

func NewHttpServer(params HttpServerParams) *HttpServer {
	router := NewRouter(params.Handlers)

	var handler http.Handler = router
	if params.Config.H2c {
		handler = h2c.NewHandler(router, &http2.Server{})
	}

	readHeaderTimeout := params.Config.ReadHeaderTimeout
	if readHeaderTimeout <= 0 {
		readHeaderTimeout = defaultReadHeaderTimeout
	}

	server := &http.Server{
		Addr:              params.Config.Address(),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext: func(net.Listener) context.Context {
			return params.Context
		},
	}

	return &HttpServer{
		address: params.Config.Address(),
		server:  server,
		log:     params.Logger.Named("http"),
	}
}

func NewLifecycleServer(params HttpServerParams, lc fx.Lifecycle, shutdowner fx.Shutdowner) *HttpServer {
	server := NewHttpServer(params)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			listener, err := server.Listen(ctx)
			if err != nil {
				return err
			}

			go func() {
				if err := server.Serve(listener); err != nil {
					shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
	return server
}

// Listen binds the server's address.
func (s *HttpServer) Listen(ctx context.Context) (net.Listener, error) {
	cfg := net.ListenConfig{}

	listener, err := cfg.Listen(ctx, "tcp", s.address)
	if err != nil {
		s.log.With(zap.Error(err)).Error("failed to listen")
		return nil, err
	}

	s.log.With(zap.String("address", listener.Addr().String())).Info("listening")

	return listener, nil
}

// Serve serves http requests on listener until the server is shut down.
func (s *HttpServer) Serve(listener net.Listener) error {
	if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.With(zap.Error(err)).Error("failed to serve")
		return err
	}

	return nil
}

func (s *HttpServer) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		s.log.With(zap.Error(err)).Error("failed to shutdown")
		return err
	}

	return nil
}
