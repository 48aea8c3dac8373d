package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/jt05610/drawbot/hostapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the machine over gRPC and metrics over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), terminal(false))
		if err != nil {
			return err
		}
		defer func() {
			if err := s.Close(); err != nil {
				logger.Warn("close session", zap.Error(err))
			}
		}()

		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", environ.GRPCPort))
		if err != nil {
			return err
		}
		grpcServer := grpc.NewServer()
		hostapi.Register(grpcServer, hostapi.NewServer(s.machine, logger.Named("hostapi")))

		mux := http.NewServeMux()
		mux.Handle("/metrics", s.metrics.Handler())
		httpServer := &http.Server{
			Addr:              environ.MetricsAddr,
			Handler:           mux,
			IdleTimeout:       time.Minute,
			ReadHeaderTimeout: 30 * time.Second,
		}

		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error {
			logger.Info("grpc server listening", zap.Stringer("addr", lis.Addr()))
			return grpcServer.Serve(lis)
		})
		g.Go(func() error {
			logger.Info("metrics server listening", zap.String("addr", environ.MetricsAddr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			grpcServer.GracefulStop()
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdown)
		})
		if err := g.Wait(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		logger.Info("server shutdown")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
