package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "rpc.Repository"

// RepositoryServer is the server-side contract the hand-built
// ServiceDesc below dispatches onto, standing in for what
// protoc-gen-go-grpc would otherwise generate from a .proto file.
type RepositoryServer interface {
	Put(context.Context, *PutRequest) (*PutResponse, error)
	Get(context.Context, *GetRequest) (*GetResponse, error)
	Delete(context.Context, *DeleteRequest) (*DeleteResponse, error)
	Commit(context.Context, *CommitRequest) (*CommitResponse, error)
	Rollback(context.Context, *RollbackRequest) (*RollbackResponse, error)
	Check(context.Context, *CheckRequest) (*CheckResponse, error)
	Iterate(*IterateRequest, Repository_IterateServer) error
}

// Repository_IterateServer is the server side of the Iterate streaming
// RPC: one IterateResponse per live key.
type Repository_IterateServer interface {
	Send(*IterateResponse) error
	grpc.ServerStream
}

type repositoryIterateServer struct {
	grpc.ServerStream
}

func (x *repositoryIterateServer) Send(m *IterateResponse) error {
	return x.ServerStream.SendMsg(m)
}

func _Repository_Put_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PutRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RepositoryServer).Put(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Put"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RepositoryServer).Put(ctx, req.(*PutRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Repository_Get_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RepositoryServer).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Get"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RepositoryServer).Get(ctx, req.(*GetRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Repository_Delete_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DeleteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RepositoryServer).Delete(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Delete"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RepositoryServer).Delete(ctx, req.(*DeleteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Repository_Commit_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CommitRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RepositoryServer).Commit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Commit"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RepositoryServer).Commit(ctx, req.(*CommitRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Repository_Rollback_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RollbackRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RepositoryServer).Rollback(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Rollback"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RepositoryServer).Rollback(ctx, req.(*RollbackRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Repository_Check_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CheckRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RepositoryServer).Check(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Check"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RepositoryServer).Check(ctx, req.(*CheckRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Repository_Iterate_Handler(srv any, stream grpc.ServerStream) error {
	m := new(IterateRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(RepositoryServer).Iterate(m, &repositoryIterateServer{stream})
}

// ServiceDesc wires the handlers above into a grpc.Server the way
// protoc-gen-go-grpc's generated _ServiceDesc would.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RepositoryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Put", Handler: _Repository_Put_Handler},
		{MethodName: "Get", Handler: _Repository_Get_Handler},
		{MethodName: "Delete", Handler: _Repository_Delete_Handler},
		{MethodName: "Commit", Handler: _Repository_Commit_Handler},
		{MethodName: "Rollback", Handler: _Repository_Rollback_Handler},
		{MethodName: "Check", Handler: _Repository_Check_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Iterate", Handler: _Repository_Iterate_Handler, ServerStreams: true},
	},
	Metadata: "internal/rpc/service.go",
}
