package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/nuetzliches/brokeradmin/internal/admin"
	"github.com/nuetzliches/brokeradmin/internal/config"
	"github.com/nuetzliches/brokeradmin/internal/mgmtapi"
)

const readHeaderTimeout = 10 * time.Second

type serverEntry struct {
	name string
	srv  *http.Server
	ln   net.Listener
}

// serverSet holds the bound listeners of every enabled API.
type serverSet struct {
	logger  *slog.Logger
	entries []serverEntry
	grpcSrv *grpc.Server
	grpcLn  net.Listener
	health  *health.Server
	group   *errgroup.Group
}

// listenServers binds every enabled listener. Nothing is served until
// serve is called; on error all listeners bound so far are closed.
func listenServers(compiled config.Compiled, rt *brokerRuntime, logger, accessLogger *slog.Logger, metrics *runtimeMetrics) (*serverSet, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &serverSet{logger: logger}
	tracing := compiled.Observability.Tracing.Enabled

	if compiled.AdminAPI.Enabled {
		adminH := admin.NewServer(rt.gateway)
		adminH.Authenticate = admin.GuardAuthenticator(rt.guard)
		if rt.directory != nil {
			adminH.Objects = rt.objects
		}
		if rt.journal != nil {
			adminH.Notifications = rt.journal
		}
		if metrics != nil {
			adminH.HealthDiagnostics = metrics.healthDiagnostics
		}
		if compiled.AdminAPI.MaxBodyBytes > 0 {
			adminH.MaxBodyBytes = compiled.AdminAPI.MaxBodyBytes
		}

		var h http.Handler = adminH
		if rl := compiled.AdminAPI.RateLimit; rl.RPS > 0 {
			h = withRateLimit(newTokenBucketLimiter(rl.RPS, rl.Burst, time.Now()), h)
		}
		h = wrapTracingHandler(tracing, "admin_api", h)
		if compiled.AdminAPI.AccessLog && accessLogger != nil {
			h = withAccessLog(accessLogger.With(slog.String("component", "admin_api")), h)
		}
		if err := s.listenHTTP("admin_api", compiled.AdminAPI.Listen, h); err != nil {
			return nil, err
		}
	}

	if compiled.Metrics.Enabled {
		h := wrapTracingHandler(tracing, "metrics", newMetricsHandler(version, time.Now(), metrics))
		if compiled.Metrics.AccessLog && accessLogger != nil {
			h = withAccessLog(accessLogger.With(slog.String("component", "metrics")), h)
		}
		if err := s.listenHTTP("metrics", compiled.Metrics.Listen, h); err != nil {
			return nil, err
		}
	}

	if compiled.GRPCAPI.Enabled {
		ln, err := net.Listen("tcp", compiled.GRPCAPI.Listen)
		if err != nil {
			s.closeListeners()
			return nil, fmt.Errorf("grpc_api listen %q: %w", compiled.GRPCAPI.Listen, err)
		}
		var opts []grpc.ServerOption
		if compiled.GRPCAPI.MaxBodyBytes > 0 {
			opts = append(opts, grpc.MaxRecvMsgSize(int(compiled.GRPCAPI.MaxBodyBytes)))
		}
		var interceptors []grpc.UnaryServerInterceptor
		if compiled.GRPCAPI.AccessLog && accessLogger != nil {
			interceptors = append(interceptors, grpcAccessLog(accessLogger.With(slog.String("component", "grpc_api"))))
		}
		if rl := compiled.GRPCAPI.RateLimit; rl.RPS > 0 {
			interceptors = append(interceptors, grpcRateLimit(newTokenBucketLimiter(rl.RPS, rl.Burst, time.Now())))
		}
		if len(interceptors) > 0 {
			opts = append(opts, grpc.ChainUnaryInterceptor(interceptors...))
		}
		srv := grpc.NewServer(opts...)

		api := mgmtapi.NewServer(rt.gateway)
		api.Authenticate = mgmtapi.GuardAuthenticator(rt.guard)
		api.Logger = logger
		mgmtapi.RegisterManagementServer(srv, api)

		hs := health.NewServer()
		hs.SetServingStatus(mgmtapi.ServiceName, healthpb.HealthCheckResponse_SERVING)
		healthpb.RegisterHealthServer(srv, hs)

		s.grpcSrv, s.grpcLn, s.health = srv, ln, hs
	}
	return s, nil
}

func (s *serverSet) listenHTTP(name, addr string, h http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.closeListeners()
		return fmt.Errorf("%s listen %q: %w", name, addr, err)
	}
	s.entries = append(s.entries, serverEntry{
		name: name,
		srv: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		ln: ln,
	})
	return nil
}

func (s *serverSet) closeListeners() {
	for _, e := range s.entries {
		_ = e.ln.Close()
	}
	if s.grpcLn != nil {
		_ = s.grpcLn.Close()
	}
}

// serve starts every server. The returned context is cancelled as soon as
// one of them fails.
func (s *serverSet) serve(ctx context.Context) context.Context {
	g, gctx := errgroup.WithContext(ctx)
	s.group = g
	for _, e := range s.entries {
		g.Go(func() error {
			s.logger.Info(e.name+"_listening", slog.String("addr", e.ln.Addr().String()))
			if err := e.srv.Serve(e.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("server_failed", slog.String("server", e.name), slog.Any("err", err))
				return fmt.Errorf("%s: %w", e.name, err)
			}
			return nil
		})
	}
	if s.grpcSrv != nil {
		g.Go(func() error {
			s.logger.Info("grpc_api_listening", slog.String("addr", s.grpcLn.Addr().String()))
			if err := s.grpcSrv.Serve(s.grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				s.logger.Error("server_failed", slog.String("server", "grpc_api"), slog.Any("err", err))
				return fmt.Errorf("grpc_api: %w", err)
			}
			return nil
		})
	}
	return gctx
}

// shutdown drains every server until ctx expires and returns the first
// serve error, if any.
func (s *serverSet) shutdown(ctx context.Context) error {
	for _, e := range s.entries {
		_ = e.srv.Shutdown(ctx)
	}
	if s.grpcSrv != nil {
		s.health.Shutdown()
		stopped := make(chan struct{})
		go func() {
			s.grpcSrv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			s.grpcSrv.Stop()
		}
	}
	if s.group == nil {
		s.closeListeners()
		return nil
	}
	return s.group.Wait()
}

func grpcAccessLog(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc_request",
			slog.String("method", info.FullMethod),
			slog.String("code", status.Code(err).String()),
			slog.Duration("duration", time.Since(start)),
		)
		return resp, err
	}
}
