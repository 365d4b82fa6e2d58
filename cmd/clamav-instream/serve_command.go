package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	grpclib "google.golang.org/grpc"

	clamav "github.com/DevHatRo/clamd-instream-go"
	"github.com/DevHatRo/clamd-instream-go/grpc"
)

const unixScheme = "unix://"

func newServeCommand(ctx *commandContext) *cobra.Command {
	var listenFlag string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the local clamd over the gRPC INSTREAM bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			listen := cfg.Bridge.Listen
			if strings.TrimSpace(listenFlag) != "" {
				listen = strings.TrimSpace(listenFlag)
			}

			lock, err := acquireLock(cfg.Bridge.LockFile)
			if err != nil {
				return err
			}
			defer func() {
				if err := lock.Unlock(); err != nil {
					logger.WithError(err).Warn("failed to release bridge lock")
				}
			}()

			opts := []clamav.ClientOption{
				clamav.WithChunkSize(cfg.ChunkSize),
				clamav.WithLogger(logger),
			}
			if timeout := cfg.Timeout(); timeout > 0 {
				opts = append(opts, clamav.WithTimeout(timeout))
			}
			scanner, err := clamav.NewClient(cfg.Socket, opts...)
			if err != nil {
				return err
			}
			bridge, err := grpc.NewServer(scanner, grpc.WithServerLogger(logger))
			if err != nil {
				return err
			}

			lis, err := listenBridge(listen)
			if err != nil {
				return err
			}

			srv := grpclib.NewServer(grpclib.MaxRecvMsgSize(cfg.Bridge.MaxMessageSize))
			bridge.Register(srv)

			serveErr := make(chan error, 1)
			go func() {
				serveErr <- srv.Serve(lis)
			}()

			logger.WithFields(logrus.Fields{
				"listen": listen,
				"socket": cfg.Socket,
				"lock":   cfg.Bridge.LockFile,
			}).Info("bridge started")

			select {
			case <-cmd.Context().Done():
				logger.Info("bridge stopping")
				srv.GracefulStop()
				<-serveErr
				return nil
			case err := <-serveErr:
				if errors.Is(err, grpclib.ErrServerStopped) {
					return nil
				}
				return fmt.Errorf("serve bridge: %w", err)
			}
		},
	}

	cmd.Flags().StringVar(&listenFlag, "listen", "", "Listen address: host:port or unix:///path (default from config)")
	return cmd
}

// acquireLock takes the single-instance bridge lock.
func acquireLock(path string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("bridge already running (lock held at %s)", path)
	}
	return lock, nil
}

// listenBridge opens addr, either unix:///path or a TCP host:port. A stale
// unix socket file is removed first; the caller must hold the bridge lock.
func listenBridge(addr string) (net.Listener, error) {
	if path, ok := strings.CutPrefix(addr, unixScheme); ok {
		if path == "" {
			return nil, fmt.Errorf("listen: empty unix socket path in %q", addr)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create socket directory: %w", err)
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
		lis, err := net.Listen("unix", path)
		if err != nil {
			return nil, fmt.Errorf("listen on %s: %w", addr, err)
		}
		return lis, nil
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return lis, nil
}
