package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dreamware/infdserver/internal/logging"
	"github.com/dreamware/infdserver/pkg/accountcache"
	"github.com/dreamware/infdserver/pkg/directory"
	"github.com/dreamware/infdserver/pkg/metrics"
	"github.com/dreamware/infdserver/pkg/ot"
	"github.com/dreamware/infdserver/pkg/otop"
	"github.com/dreamware/infdserver/pkg/session"
	"github.com/dreamware/infdserver/pkg/storage"
	"github.com/dreamware/infdserver/pkg/xmlproto"
)

func newRunCommand() *cobra.Command {
	var cfg RunConfig
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, &cfg, defaultConfDir()); err != nil {
				fmt.Fprintln(os.Stderr, "loading configuration:", err)
				os.Exit(exitStartupFailure)
			}

			code := runServer(cfg)
			os.Exit(code)
			return nil
		},
	}
	return cmd
}

func runServer(cfg RunConfig) int {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		fmt.Fprintln(os.Stderr, "building logger:", err)
		return exitStartupFailure
	}
	defer logger.Sync() //nolint:errcheck

	signer, err := loadRejoinSigner(cfg.RejoinKeyPath)
	if err != nil {
		logger.Error("loading rejoin signing key", zap.Error(err))
		return exitStartupFailure
	}

	var sessionOpts []session.Option
	if cfg.Session.AutosaveInterval > 0 {
		sessionOpts = append(sessionOpts, session.WithAutosaveInterval(cfg.Session.AutosaveInterval))
	}
	if cfg.ACL.TransformationLimit > 0 {
		sessionOpts = append(sessionOpts, session.WithOTOptions(ot.WithCheckRequest(ot.NewVdiffLimiter(cfg.ACL.TransformationLimit))))
	}
	if cfg.Plugins.LineKeeperLines >= 0 {
		sessionOpts = append(sessionOpts, session.WithLineKeeper(otop.NewLineKeeper(cfg.Plugins.LineKeeperLines)))
	}

	var dirOpts []directory.Option
	dirOpts = append(dirOpts,
		directory.WithLogger(logger),
		directory.WithSessionOptions(sessionOpts...),
	)
	if cfg.AccountCache.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.AccountCache.RedisAddr})
		cache := accountcache.New(rdb, accountcache.WithTTL(cfg.AccountCache.TTL), accountcache.WithLogger(logger))
		dirOpts = append(dirOpts, directory.WithAccountCache(cache))
	}

	backend := storage.NewMemory()
	dir := directory.New(backend, dirOpts...)

	var traffic xmlproto.TrafficLogger
	if cfg.Plugins.TrafficLogging {
		traffic = &trafficLogger{logger: logger}
	}

	srv := NewServer(cfg, logger, dir, signer, traffic)

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		logger.Error("binding listener", zap.String("addr", cfg.Listen), zap.Error(err))
		return exitStartupFailure
	}
	logger.Info("listening", zap.String("addr", cfg.Listen))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.NewServer(cfg.Metrics.Listen, func() bool { return true })
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	go srv.runAutosave(ctx)

	if err := srv.Serve(ctx, ln); err != nil {
		logger.Error("server failed", zap.Error(err))
		return exitRuntimeFailure
	}
	if metricsSrv != nil {
		_ = metricsSrv.Close()
	}
	logger.Info("shut down cleanly")
	return exitOK
}

// trafficLogger adapts zap to xmlproto.TrafficLogger, grounded in
// infinoted-plugin-traffic-logging.c's raw fragment logging.
type trafficLogger struct {
	logger *zap.Logger
}

func (t *trafficLogger) LogFragment(direction string, raw []byte) {
	t.logger.Debug("fragment", zap.String("direction", direction), zap.ByteString("raw", raw))
}

func loadRejoinSigner(path string) (*session.RejoinSigner, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no rejoin key at %s; run \"infdserver setup\" first", path)
		}
		return nil, err
	}
	key, err := parseECKey(raw)
	if err != nil {
		return nil, err
	}
	return session.NewRejoinSigner(key), nil
}

func parseECKey(pemBytes []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	return x509.ParseECPrivateKey(block.Bytes)
}
