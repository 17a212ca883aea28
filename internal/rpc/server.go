package rpc

import (
	"context"

	grpc_auth "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/auth"
	"github.com/rs/zerolog/log"

	"github.com/elho/borg/internal/repo"
	"google.golang.org/grpc"
)

// Config bundles what a Server needs to serve a repository over the wire.
type Config struct {
	Backend    repo.Backend
	Authorizer Authorizer
}

var _ RepositoryServer = (*server)(nil)

type server struct {
	Config
}

func (s *server) Put(ctx context.Context, req *PutRequest) (*PutResponse, error) {
	if err := s.Authorizer.Authorize(subject(ctx), objectWildcard, actionWrite); err != nil {
		return nil, err
	}
	if err := s.Backend.Put(ctx, req.Key, req.Payload); err != nil {
		return nil, toStatusError(err)
	}
	return &PutResponse{}, nil
}

func (s *server) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	if err := s.Authorizer.Authorize(subject(ctx), objectWildcard, actionRead); err != nil {
		return nil, err
	}
	payload, err := s.Backend.Get(ctx, req.Key)
	if err != nil {
		return nil, toStatusError(err)
	}
	return &GetResponse{Payload: payload}, nil
}

func (s *server) Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error) {
	if err := s.Authorizer.Authorize(subject(ctx), objectWildcard, actionWrite); err != nil {
		return nil, err
	}
	if err := s.Backend.Delete(ctx, req.Key); err != nil {
		return nil, toStatusError(err)
	}
	return &DeleteResponse{}, nil
}

func (s *server) Commit(ctx context.Context, req *CommitRequest) (*CommitResponse, error) {
	if err := s.Authorizer.Authorize(subject(ctx), objectWildcard, actionWrite); err != nil {
		return nil, err
	}
	if err := s.Backend.Commit(ctx); err != nil {
		return nil, toStatusError(err)
	}
	return &CommitResponse{}, nil
}

func (s *server) Rollback(ctx context.Context, req *RollbackRequest) (*RollbackResponse, error) {
	if err := s.Authorizer.Authorize(subject(ctx), objectWildcard, actionWrite); err != nil {
		return nil, err
	}
	if err := s.Backend.Rollback(ctx); err != nil {
		return nil, toStatusError(err)
	}
	return &RollbackResponse{}, nil
}

func (s *server) Check(ctx context.Context, req *CheckRequest) (*CheckResponse, error) {
	if err := s.Authorizer.Authorize(subject(ctx), objectWildcard, actionCheck); err != nil {
		return nil, err
	}
	report, err := s.Backend.Check(ctx, repo.CheckOptions{Repair: req.Repair})
	if err != nil {
		return nil, toStatusError(err)
	}
	return &CheckResponse{Report: report}, nil
}

func (s *server) Iterate(req *IterateRequest, stream Repository_IterateServer) error {
	if err := s.Authorizer.Authorize(subject(stream.Context()), objectWildcard, actionRead); err != nil {
		return err
	}
	return s.Backend.Iterate(stream.Context(), func(key repo.Key) bool {
		if err := stream.Send(&IterateResponse{Key: key}); err != nil {
			log.Warn().Err(err).Msg("iterate stream send failed")
			return false
		}
		return true
	})
}

// NewServer builds a *grpc.Server that exposes cfg.Backend over the
// hand-built ServiceDesc, authenticating every call off the peer's TLS
// certificate and authorizing it through cfg.Authorizer, mirroring the
// teacher's NewGRPCServer.
func NewServer(cfg Config, opts ...grpc.ServerOption) (*grpc.Server, error) {
	opts = append(opts,
		grpc.ChainStreamInterceptor(grpc_auth.StreamServerInterceptor(authenticate)),
		grpc.ChainUnaryInterceptor(grpc_auth.UnaryServerInterceptor(authenticate)),
	)
	gsrv := grpc.NewServer(opts...)
	gsrv.RegisterService(&ServiceDesc, &server{Config: cfg})
	return gsrv, nil
}
