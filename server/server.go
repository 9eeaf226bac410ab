// Package server exposes a reusable DICOM listener that wires the PDU
// and DIMSE layers around a service registry.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinimage/imagingd/dimse"
	"github.com/clinimage/imagingd/pdu"
	"github.com/clinimage/imagingd/services"
	"github.com/clinimage/imagingd/types"
)

// Option configures a Server instance.
type Option func(*Server)

// WithLogger overrides the logger used by the server.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.Logger = logger
	}
}

// WithIdleTimeout sets how long an association may sit idle before it
// is aborted.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.IdleTimeout = timeout
	}
}

// WithMaxPDULength sets the maximum PDU length announced to peers.
func WithMaxPDULength(length uint32) Option {
	return func(s *Server) {
		s.MaxPDULength = length
	}
}

// WithTransferSyntaxes sets the transfer syntaxes the listener accepts,
// in preference order.
func WithTransferSyntaxes(uids []string) Option {
	return func(s *Server) {
		s.TransferSyntaxes = uids
	}
}

// Server accepts associations on one listener and serves the SOP
// classes its registry declares.
type Server struct {
	AETitle          string
	Registry         *services.Registry
	Logger           zerolog.Logger
	IdleTimeout      time.Duration // Association idle timeout (default: 60s)
	MaxPDULength     uint32        // Announced max PDU length (default: 16384)
	TransferSyntaxes []string      // Accepted transfer syntaxes, in preference order
}

// New builds a Server with the provided AE title and registry.
func New(aeTitle string, registry *services.Registry, opts ...Option) *Server {
	srv := &Server{
		AETitle:  aeTitle,
		Registry: registry,
		Logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(srv)
	}
	if len(srv.TransferSyntaxes) == 0 {
		srv.TransferSyntaxes = types.StorageTransferSyntaxes()
	}
	return srv
}

// ListenAndServe listens on the given address and serves until the
// context is done or an error occurs.
func ListenAndServe(ctx context.Context, address, aeTitle string, registry *services.Registry, opts ...Option) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	defer listener.Close()

	srv := New(aeTitle, registry, opts...)
	return srv.Serve(ctx, listener)
}

// Serve accepts connections from listener until ctx is cancelled or an
// unrecoverable error occurs.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if listener == nil {
		return errors.New("dicomserver: listener is required")
	}
	if s == nil {
		return errors.New("dicomserver: server is nil")
	}
	if s.Registry == nil {
		return errors.New("dicomserver: registry is required")
	}
	if s.AETitle == "" {
		return errors.New("dicomserver: AE title is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	s.Logger.Info().
		Str("address", listener.Addr().String()).
		Str("ae_title", s.AETitle).
		Strs("sop_classes", s.Registry.RegisteredSOPClasses()).
		Msg("DICOM listener started")

	var (
		wg       sync.WaitGroup
		serveErr error
	)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.Logger.Warn().Err(err).Msg("accept timeout")
				continue
			}
			serveErr = err
			break
		}

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			s.handleConnection(ctx, c)
		}(conn)
	}

	wg.Wait()

	if serveErr != nil {
		return serveErr
	}

	return ctx.Err()
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	logger := s.Logger.With().
		Str("remote_addr", conn.RemoteAddr().String()).
		Str("ae_title", s.AETitle).
		Logger()

	service := dimse.NewService(s.Registry, logger)
	layer := pdu.NewLayer(conn, service, pdu.AcceptorConfig{
		AETitle:                s.AETitle,
		SupportsAbstractSyntax: s.Registry.SupportsAbstractSyntax,
		TransferSyntaxes:       s.TransferSyntaxes,
		MaxPDULength:           s.MaxPDULength,
		IdleTimeout:            s.IdleTimeout,
	}, logger)

	if err := layer.HandleConnection(ctx); err != nil && ctx.Err() == nil {
		logger.Warn().Err(err).Msg("association ended with error")
	} else {
		logger.Info().Msg("association closed")
	}
}
