package rpc

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cloudomate/objectio/pkg/common"
)

// kindToCode maps the cluster's closed error taxonomy onto the gRPC status
// codes collaborators outside this repo (S3/NBD gateways' own clients)
// already know how to interpret.
var kindToCode = map[common.Kind]codes.Code{
	common.KindInternal:           codes.Internal,
	common.KindNotFound:           codes.NotFound,
	common.KindAlreadyExists:      codes.AlreadyExists,
	common.KindFailedPrecondition: codes.FailedPrecondition,
	common.KindInvalidArgument:    codes.InvalidArgument,
	common.KindUnauthenticated:    codes.Unauthenticated,
	common.KindUnauthorized:       codes.PermissionDenied,
	common.KindPermissionDenied:   codes.PermissionDenied,
	common.KindCorruption:         codes.DataLoss,
	common.KindInsufficientShards: codes.Unavailable,
	common.KindDiskFull:           codes.ResourceExhausted,
	common.KindUnavailable:        codes.Unavailable,
}

var codeToKind = func() map[codes.Code]common.Kind {
	m := make(map[codes.Code]common.Kind, len(kindToCode))
	for k, c := range kindToCode {
		// PermissionDenied and Unavailable are each hit by two Kinds; the
		// narrower KindUnauthorized and KindInsufficientShards are skipped
		// so those codes always decode to the broader Kind.
		if k == common.KindUnauthorized || k == common.KindInsufficientShards {
			continue
		}
		m[c] = k
	}
	return m
}()

// ToGRPCError converts a *common.Error (or any error) into a status error
// carrying the mapped code and the error's message.
func ToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	kind := common.KindOf(err)
	code, ok := kindToCode[kind]
	if !ok {
		code = codes.Unknown
	}
	return status.Error(code, err.Error())
}

// FromGRPCError reconstructs a *common.Error from a status error returned
// by a peer daemon, so callers above pkg/rpc can keep matching on Kind
// regardless of whether the failure originated locally or over the wire.
func FromGRPCError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return common.Wrap(common.KindUnavailable, err, "rpc failed")
	}
	kind, ok := codeToKind[st.Code()]
	if !ok {
		kind = common.KindInternal
	}
	return common.New(kind, "%s", st.Message())
}
