package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signalsfoundry/netlab-simulator/internal/logging"
	"github.com/signalsfoundry/netlab-simulator/internal/nbi"
	"github.com/signalsfoundry/netlab-simulator/internal/observability"
	"github.com/signalsfoundry/netlab-simulator/internal/sim/engine"
	"github.com/signalsfoundry/netlab-simulator/internal/sink"
	"github.com/signalsfoundry/netlab-simulator/kb"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// shutdownTimeout bounds how long serve waits for runs and HTTP clients to
// finish after a signal.
const shutdownTimeout = 5 * time.Second

// ServeConfig is everything serve needs besides its listener.
type ServeConfig struct {
	GRPCAddress   string
	HTTPAddress   string
	ScenarioPaths []string
	Engine        engineFlags
}

func newServeCmd(g *globalFlags) *cobra.Command {
	cfg := ServeConfig{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the simulation control API and the live event feed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := g.logger(cmd)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := shutdownTracing(flushCtx); err != nil {
					log.Warn(flushCtx, "tracing shutdown failed", logging.Err(err))
				}
			}()

			lis, err := net.Listen("tcp", cfg.GRPCAddress)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", cfg.GRPCAddress, err)
			}
			return serve(ctx, cfg, log, lis)
		},
	}
	cmd.Flags().StringVar(&cfg.GRPCAddress, "grpc-addr", ":50051", "TCP address the control gRPC server listens on")
	cmd.Flags().StringVar(&cfg.HTTPAddress, "http-addr", ":8080", "HTTP address for /metrics and the /ws/{session_id} event feed; empty disables")
	cmd.Flags().StringSliceVar(&cfg.ScenarioPaths, "scenario", nil, "Scenario YAML files to preload (repeatable)")
	cfg.Engine.register(cmd)
	return cmd
}

// serve runs the control plane on lis until ctx is cancelled, then drains
// active runs and stops both servers.
func serve(ctx context.Context, cfg ServeConfig, log logging.Logger, lis net.Listener) error {
	collector, err := observability.NewSimulationCollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	store := kb.NewStore()
	for _, path := range cfg.ScenarioPaths {
		summary, err := kb.LoadScenarioFile(store, path)
		if err != nil {
			return err
		}
		log.Info(ctx, "preloaded scenario",
			logging.String("path", path),
			logging.Any("sessions", summary.SessionIDs),
		)
	}

	broker := sink.NewBroker(
		sink.WithBrokerLogger(log),
		sink.WithSubscriberObserver(collector),
	)
	coord := engine.NewCoordinator(broker, append(cfg.Engine.options(),
		engine.WithLogger(log),
		engine.WithMetrics(collector),
	)...)

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			nbi.RequestIDUnaryServerInterceptor(log),
			nbi.TracingUnaryServerInterceptor(),
			collector.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			nbi.RequestIDStreamServerInterceptor(log),
			nbi.TracingStreamServerInterceptor(),
			collector.StreamServerInterceptor(),
		),
	)
	nbi.RegisterSimulationServiceServer(server, nbi.NewSimulationService(store, coord, broker, log))
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(server, healthSrv)
	healthSrv.SetServingStatus(nbi.SimulationServiceName, healthpb.HealthCheckResponse_SERVING)

	httpSrv := serveHTTP(ctx, cfg.HTTPAddress, collector, broker, log)

	serveErr := make(chan error, 1)
	log.Info(ctx, "starting control gRPC server", logging.String("addr", lis.Addr().String()))
	go func() {
		serveErr <- server.Serve(lis)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			runErr = fmt.Errorf("grpc server: %w", err)
		}
	}

	log.Info(context.Background(), "shutting down")
	healthSrv.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := coord.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "simulation runs did not drain", logging.Err(err))
	}
	// Streams only end once the broker closes their subscriptions.
	broker.Close()
	server.GracefulStop()
	if httpSrv != nil {
		_ = httpSrv.Shutdown(shutdownCtx)
	}
	return runErr
}

func serveHTTP(ctx context.Context, addr string, collector *observability.SimulationCollector, broker *sink.Broker, log logging.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           newHTTPMux(collector, broker, log),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "http server exited", logging.Err(err))
		}
	}()

	log.Info(ctx, "serving metrics and event feed", logging.String("addr", addr))
	return srv
}

func newHTTPMux(collector *observability.SimulationCollector, broker *sink.Broker, log logging.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", collector.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	sink.NewHub(broker, log).Register(mux)
	return mux
}
