package rpc

import (
	"context"

	"github.com/casbin/casbin/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/elho/borg/internal/config"
)

// Authorizer decides whether subject may perform action on object. The
// repository server consults it once per RPC before touching the backend.
type Authorizer interface {
	Authorize(subject, object, action string) error
}

const objectWildcard = "*"

const (
	actionRead  = "read"
	actionWrite = "write"
	actionCheck = "check"
)

// CasbinAuthorizer is an Authorizer backed by a casbin ACL enforcer, the
// same library the teacher's go.mod carries for this purpose.
type CasbinAuthorizer struct {
	enforcer *casbin.Enforcer
}

// NewCasbinAuthorizer loads an ACL model and policy from the given paths.
func NewCasbinAuthorizer(modelFile, policyFile string) (*CasbinAuthorizer, error) {
	enforcer, err := casbin.NewEnforcer(modelFile, policyFile)
	if err != nil {
		return nil, err
	}
	return &CasbinAuthorizer{enforcer: enforcer}, nil
}

// NewDefaultCasbinAuthorizer loads the ACL model and policy from the
// well-known locations in config.ACLModelFile / config.ACLPolicyFile,
// the paths a server gets when it doesn't manage its own ACL files.
func NewDefaultCasbinAuthorizer() (*CasbinAuthorizer, error) {
	return NewCasbinAuthorizer(config.ACLModelFile, config.ACLPolicyFile)
}

func (a *CasbinAuthorizer) Authorize(subject, object, action string) error {
	ok, err := a.enforcer.Enforce(subject, object, action)
	if err != nil {
		return status.New(codes.Internal, err.Error()).Err()
	}
	if !ok {
		return status.New(
			codes.PermissionDenied,
			subject+" not permitted to "+action+" "+object,
		).Err()
	}
	return nil
}

type subjectContextKey struct{}

func subject(ctx context.Context) string {
	s, _ := ctx.Value(subjectContextKey{}).(string)
	return s
}

// authenticate reads the client certificate's subject off the peer's TLS
// state and stashes it in the RPC context, the same interceptor shape the
// teacher uses for its own authorize-by-CN scheme.
func authenticate(ctx context.Context) (context.Context, error) {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return ctx, status.New(codes.Unknown, "couldn't find peer info").Err()
	}
	if p.AuthInfo == nil {
		return context.WithValue(ctx, subjectContextKey{}, ""), nil
	}
	tlsInfo, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok || len(tlsInfo.State.VerifiedChains) == 0 || len(tlsInfo.State.VerifiedChains[0]) == 0 {
		return context.WithValue(ctx, subjectContextKey{}, ""), nil
	}
	cn := tlsInfo.State.VerifiedChains[0][0].Subject.CommonName
	return context.WithValue(ctx, subjectContextKey{}, cn), nil
}
