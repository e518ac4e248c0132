package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cloudx-io/openbidding/auction"
	"github.com/cloudx-io/openbidding/auctionapi"
	"github.com/cloudx-io/openbidding/bank"
	"github.com/cloudx-io/openbidding/core"
	"github.com/cloudx-io/openbidding/internal/logger"
)

const maxRequestBytes = 1 << 20

// Server answers auctionapi requests, one per connection.
type Server struct {
	cfg      Config
	svc      *auction.Service
	guard    *RequestGuard
	attester func() (EnclaveAttester, error)
	log      *zap.Logger
}

func NewServer(cfg Config, svc *auction.Service, log *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		svc:      svc,
		guard:    NewRequestGuard(log),
		attester: getEnclaveAttester,
		log:      log.Named("server"),
	}
}

// Serve accepts connections on listener until ctx is done. Each connection
// gets a worker from a pool of cfg.MaxWorkers; when the pool is full the
// connection is closed unanswered.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.guard.StartExpirationCleanup(ctx, max(s.cfg.RequestTTL/10, time.Second), s.cfg.RequestTTL)

	go func() {
		<-ctx.Done()
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Error("failed to close listener", zap.Error(err))
		}
	}()

	semaphore := make(chan struct{}, s.cfg.MaxWorkers)
	s.log.Info("listening",
		zap.Stringer("addr", listener.Addr()),
		zap.Int("max_workers", s.cfg.MaxWorkers))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Error("failed to accept connection", zap.Error(err))
			continue
		}

		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }()
				s.handleConnection(ctx, c)
			}(conn)
		default:
			s.log.Warn("no workers available, rejecting connection")
			if err := conn.Close(); err != nil {
				s.log.Error("failed to close rejected connection", zap.Error(err))
			}
		}
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic recovered in handleConnection", zap.Any("panic", r))
		}
		if err := conn.Close(); err != nil {
			s.log.Debug("failed to close connection", zap.Error(err))
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

	var resp *auctionapi.Response
	var req auctionapi.Request
	if err := json.NewDecoder(io.LimitReader(conn, maxRequestBytes)).Decode(&req); err != nil {
		s.log.Warn("failed to decode request", zap.Error(err))
		resp = &auctionapi.Response{
			Type:      auctionapi.TypeError,
			Message:   fmt.Sprintf("failed to decode request: %v", err),
			ErrorCode: auctionapi.CodeBadRequest,
		}
	} else {
		s.log.Debug("received request", zap.String("type", req.Type))
		resp = s.Handle(ctx, &req)
	}

	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.log.Error("failed to encode response", zap.String("type", resp.Type), zap.Error(err))
	}
}

// Handle answers a single request.
func (s *Server) Handle(ctx context.Context, req *auctionapi.Request) *auctionapi.Response {
	start := time.Now()
	resp := s.dispatch(ctx, req)
	resp.Timestamp = time.Now().Unix()
	resp.ProcessingTime = time.Since(start).Milliseconds()
	return resp
}

func (s *Server) dispatch(ctx context.Context, req *auctionapi.Request) *auctionapi.Response {
	switch req.Type {
	case auctionapi.TypePing:
		return &auctionapi.Response{
			Type:    auctionapi.TypePong,
			Success: true,
			Message: "auction server is healthy",
		}

	case auctionapi.TypeInstantiate, auctionapi.TypePlaceBid, auctionapi.TypeClose, auctionapi.TypeRetract:
		return s.execute(ctx, req)

	case auctionapi.TypeGetConfig:
		cfg, err := s.svc.Config(ctx)
		if err != nil {
			return s.failure(req, err)
		}
		return &auctionapi.Response{Type: auctionapi.ResponseType(req.Type), Success: true, Config: &cfg}

	case auctionapi.TypeGetBids:
		bids, err := s.svc.Bids(ctx)
		if err != nil {
			return s.failure(req, err)
		}
		return &auctionapi.Response{Type: auctionapi.ResponseType(req.Type), Success: true, Bids: bids}

	case auctionapi.TypeGetStatus:
		status, err := s.svc.Status(ctx)
		if err != nil {
			return s.failure(req, err)
		}
		return &auctionapi.Response{Type: auctionapi.ResponseType(req.Type), Success: true, Status: &status}

	default:
		return &auctionapi.Response{
			Type:      auctionapi.TypeError,
			Message:   fmt.Sprintf("unknown request type: %s", req.Type),
			ErrorCode: auctionapi.CodeBadRequest,
		}
	}
}

func (s *Server) execute(ctx context.Context, req *auctionapi.Request) *auctionapi.Response {
	id := uuid.New()
	if req.RequestID != "" {
		parsed, err := uuid.Parse(req.RequestID)
		if err != nil {
			return auctionapi.ErrorResponse(req.Type, req.RequestID, auctionapi.CodeBadRequest,
				fmt.Errorf("request id must be a UUID: %w", err))
		}
		id = parsed
	}
	if !s.guard.Consume(id) {
		return auctionapi.ErrorResponse(req.Type, id.String(), auctionapi.CodeDuplicateRequest,
			fmt.Errorf("request %s was already processed", id))
	}
	ctx, log := logger.WithRequestID(ctx, s.log, id.String())

	var (
		res *auction.Result
		err error
	)
	switch req.Type {
	case auctionapi.TypeInstantiate:
		res, err = s.svc.Instantiate(ctx, req.Sender, req.Owner, req.Commodity, req.Funds)
	case auctionapi.TypePlaceBid:
		res, err = s.svc.PlaceBid(ctx, req.Sender, req.Funds)
	case auctionapi.TypeClose:
		res, err = s.svc.Close(ctx, req.Sender)
	case auctionapi.TypeRetract:
		res, err = s.svc.Retract(ctx, req.Sender, req.Receiver)
	}

	if err != nil && !errors.Is(err, auction.ErrTransferFailed) {
		// Nothing was applied, so the id may be used again.
		s.guard.Release(id)
		resp := s.failure(req, err)
		resp.RequestID = id.String()
		return resp
	}

	resp := &auctionapi.Response{
		Type:      auctionapi.ResponseType(req.Type),
		RequestID: id.String(),
		Success:   err == nil,
		Receipt:   &res.Receipt,
		Transfers: res.Transfers,
	}
	if err != nil {
		resp.Message = err.Error()
		resp.ErrorCode = auctionapi.CodeTransferFailed
		return resp
	}

	if req.Type == auctionapi.TypeClose && s.cfg.Attest {
		attestation, aerr := s.attest(res.View, log)
		if aerr != nil {
			log.Error("settlement attestation failed", zap.Error(aerr))
			resp.Message = fmt.Sprintf("closed without attestation: %v", aerr)
		} else {
			resp.Attestation = attestation.EncodeBase64()
		}
	}
	return resp
}

func (s *Server) attest(view core.View, log *zap.Logger) (auctionapi.AttestationCOSE, error) {
	attester, err := s.attester()
	if err != nil {
		return nil, err
	}
	return GenerateSettlementAttestation(attester, view, log)
}

func (s *Server) failure(req *auctionapi.Request, err error) *auctionapi.Response {
	return auctionapi.ErrorResponse(req.Type, req.RequestID, codeFor(err), err)
}

// codeFor maps errors from the service and its collaborators to wire codes.
func codeFor(err error) auctionapi.ErrorCode {
	switch {
	case errors.Is(err, bank.ErrInsufficientFunds):
		return auctionapi.CodeInsufficientFunds
	case errors.Is(err, auction.ErrTransferFailed):
		return auctionapi.CodeTransferFailed
	default:
		return auctionapi.CodeOf(err)
	}
}
