package rpc

import "github.com/elho/borg/internal/repo"

// Message types carried over the wire by the gob codec in place of the
// protobuf messages a generated api/v1 package would normally provide.

type PutRequest struct {
	Key     repo.Key
	Payload []byte
}

type PutResponse struct{}

type GetRequest struct {
	Key repo.Key
}

type GetResponse struct {
	Payload []byte
}

type DeleteRequest struct {
	Key repo.Key
}

type DeleteResponse struct{}

type CommitRequest struct{}

type CommitResponse struct{}

type RollbackRequest struct{}

type RollbackResponse struct{}

type CheckRequest struct {
	Repair bool
}

type CheckResponse struct {
	Report repo.CheckReport
}

type IterateRequest struct{}

type IterateResponse struct {
	Key repo.Key
}
