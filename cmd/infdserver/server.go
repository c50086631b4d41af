package main

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/infdserver/pkg/acl"
	"github.com/dreamware/infdserver/pkg/directory"
	"github.com/dreamware/infdserver/pkg/eventloop"
	"github.com/dreamware/infdserver/pkg/metrics"
	"github.com/dreamware/infdserver/pkg/session"
	"github.com/dreamware/infdserver/pkg/xmlproto"
)

// protocolVersion is the value advertised in every connection's
// initial <welcome/>.
const protocolVersion = "1.0"

// Server owns the directory, the single cooperative event loop every
// connection's core-touching work is posted through, and the set of
// currently accepted connections.
type Server struct {
	cfg     RunConfig
	logger  *zap.Logger
	dir     *directory.Directory
	loop    *eventloop.Loop
	signer  *session.RejoinSigner
	traffic xmlproto.TrafficLogger
}

// NewServer wires together a freshly constructed directory and event
// loop per cfg.
func NewServer(cfg RunConfig, logger *zap.Logger, dir *directory.Directory, signer *session.RejoinSigner, traffic xmlproto.TrafficLogger) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logger,
		dir:     dir,
		loop:    eventloop.New(),
		signer:  signer,
		traffic: traffic,
	}
}

// Serve accepts connections on ln until ctx is cancelled, running the
// event loop on the calling goroutine. It returns nil once the loop
// has stopped; it neither closes ln nor waits for accepted
// connections to be torn down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.acceptLoop(ctx, ln)
	s.loop.Run(ctx)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.logger.Warn("accept failed", zap.Error(err))
				return
			}
		}
		go s.handleConn(nc)
	}
}

func (s *Server) handleConn(nc net.Conn) {
	c := &clientConn{
		netConn:  nc,
		logger:   s.logger.With(zap.String("remote", nc.RemoteAddr().String())),
		account:  acl.DefaultAccount,
		bindings: make(map[directory.NodeID]*connBinding),
	}
	defer c.close(s)

	if err := c.write(s, &xmlproto.Welcome{Version: protocolVersion}); err != nil {
		return
	}

	parser := xmlproto.NewStreamParser()
	buf := make([]byte, 4096)
	for {
		n, err := nc.Read(buf)
		if n > 0 {
			parser.Feed(buf[:n])
			for {
				frag, ok, perr := parser.Next()
				if perr != nil {
					s.logger.Warn("malformed fragment", zap.Error(perr))
					return
				}
				if !ok {
					break
				}
				s.dispatch(c, frag)
			}
		}
		if err != nil {
			return
		}
	}
}

// dispatch decodes one fragment and posts its handling onto the
// loop; core state (the directory, its sessions) is only ever
// touched from the loop goroutine.
func (s *Server) dispatch(c *clientConn, frag *xmlproto.Fragment) {
	if s.traffic != nil {
		s.traffic.LogFragment("in", frag.Raw)
	}
	_ = s.loop.Post(func() {
		s.handleFragment(c, frag)
	})
}

// runAutosave is started once by runServer and, every
// AutosaveInterval until ctx is done, posts onto the event loop a
// flush of every currently-hosted session's buffer to storage. It
// returns at once when the interval is not positive.
func (s *Server) runAutosave(ctx context.Context) {
	if s.cfg.Session.AutosaveInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.Session.AutosaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.loop.Post(func() {
				s.dir.AutosaveAll()
				metrics.DirectoryNodeCount.Set(float64(s.dir.NodeCount()))
			})
		}
	}
}
