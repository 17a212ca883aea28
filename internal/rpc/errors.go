package rpc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/elho/borg/internal/repo"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatusError maps the repo package's sentinel error types onto grpc
// status codes, encoding enough of the original error into the status
// message to reconstruct the same Go type client-side. This plays the
// role the teacher's api.ErrOffsetOutOfRange <-> status conversion
// (generated by protoc from the error's proto definition) plays for
// proglog, without depending on protobuf.
func toStatusError(err error) error {
	if err == nil {
		return nil
	}
	switch e := err.(type) {
	case repo.ErrDoesNotExist:
		return status.Error(codes.NotFound, "does_not_exist:"+keyHex(e.Key))
	case repo.ErrIntegrityError:
		return status.Error(codes.DataLoss, fmt.Sprintf("integrity_error:%d:%d:%s", e.Segment, e.Offset, e.Reason))
	case repo.ErrCheckNeeded:
		return status.Error(codes.FailedPrecondition, "check_needed")
	case repo.ErrLockFailed:
		return status.Error(codes.Unavailable, "lock_failed:"+e.Path)
	case repo.ErrAlreadyExists:
		return status.Error(codes.AlreadyExists, "already_exists:"+e.Path)
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// fromStatusError reverses toStatusError on the client side so callers of
// the gRPC Client see the identical repo.Err* types a local repo.Repository
// would return.
func fromStatusError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	msg := st.Message()
	switch {
	case st.Code() == codes.NotFound && strings.HasPrefix(msg, "does_not_exist:"):
		return repo.ErrDoesNotExist{Key: keyFromHex(strings.TrimPrefix(msg, "does_not_exist:"))}
	case st.Code() == codes.DataLoss && strings.HasPrefix(msg, "integrity_error:"):
		parts := strings.SplitN(strings.TrimPrefix(msg, "integrity_error:"), ":", 3)
		if len(parts) == 3 {
			seg, _ := strconv.ParseUint(parts[0], 10, 32)
			off, _ := strconv.ParseUint(parts[1], 10, 32)
			return repo.ErrIntegrityError{Segment: uint32(seg), Offset: uint32(off), Reason: parts[2]}
		}
	case st.Code() == codes.FailedPrecondition && msg == "check_needed":
		return repo.ErrCheckNeeded{}
	case st.Code() == codes.Unavailable && strings.HasPrefix(msg, "lock_failed:"):
		return repo.ErrLockFailed{Path: strings.TrimPrefix(msg, "lock_failed:")}
	case st.Code() == codes.AlreadyExists && strings.HasPrefix(msg, "already_exists:"):
		return repo.ErrAlreadyExists{Path: strings.TrimPrefix(msg, "already_exists:")}
	}
	return err
}

func keyHex(k repo.Key) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(k)*2)
	for i, b := range k {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0x0f]
	}
	return string(out)
}

func keyFromHex(s string) repo.Key {
	var k repo.Key
	for i := 0; i+1 < len(s) && i/2 < len(k); i += 2 {
		hi := hexVal(s[i])
		lo := hexVal(s[i+1])
		k[i/2] = hi<<4 | lo
	}
	return k
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}
