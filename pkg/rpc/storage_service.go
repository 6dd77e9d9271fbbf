package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/cloudomate/objectio/pkg/common"
	"github.com/cloudomate/objectio/pkg/storage"
)

const storageServiceName = "objectio.StorageService"

// StorageServer is the server-side contract objectio-osd registers: every
// RPC storage.Service exposes over the wire, taking a context so handlers
// can honor client cancellation and deadlines the way the teacher's own
// gRPC server methods do.
type StorageServer interface {
	WriteShard(ctx context.Context, req *WriteShardRequest) (*WriteShardResponse, error)
	ReadShard(ctx context.Context, req *ReadShardRequest) (*ReadShardResponse, error)
	DeleteShard(ctx context.Context, req *DeleteShardRequest) (*Empty, error)
	GetShardMeta(ctx context.Context, req *GetShardMetaRequest) (*GetShardMetaResponse, error)
	ListShards(ctx context.Context, req *ListShardsRequest) (*ListShardsResponse, error)
	PutObjectMeta(ctx context.Context, req *PutObjectMetaRequest) (*Empty, error)
	GetObjectMeta(ctx context.Context, req *GetObjectMetaRequest) (*GetObjectMetaResponse, error)
	DeleteObjectMeta(ctx context.Context, req *DeleteObjectMetaRequest) (*Empty, error)
	ListObjectsMeta(ctx context.Context, req *ListObjectsMetaRequest) (*ListObjectsMetaResponse, error)
}

type Empty struct{}

type WriteShardRequest struct {
	DiskId     common.DiskId
	Shard      common.ShardId
	Role       common.ShardRole
	LocalGroup *uint8
	Data       []byte
}

type WriteShardResponse struct {
	Location storage.BlockLocation
}

type ReadShardRequest struct {
	DiskId   common.DiskId
	ObjectId common.ObjectId
	Position uint8
}

type ReadShardResponse struct {
	Data []byte
}

type DeleteShardRequest struct {
	DiskId   common.DiskId
	ObjectId common.ObjectId
	Position uint8
}

type GetShardMetaRequest struct {
	DiskId   common.DiskId
	ObjectId common.ObjectId
	Position uint8
}

type GetShardMetaResponse struct {
	Meta storage.ShardMeta
}

type ListShardsRequest struct {
	DiskId   common.DiskId
	ObjectId common.ObjectId
}

type ListShardsResponse struct {
	Shards []storage.ShardMeta
}

type PutObjectMetaRequest struct {
	DiskId common.DiskId
	Bucket string
	Key    string
	Value  []byte
}

type GetObjectMetaRequest struct {
	DiskId common.DiskId
	Bucket string
	Key    string
}

type GetObjectMetaResponse struct {
	Value []byte
	Found bool
}

type DeleteObjectMetaRequest struct {
	DiskId common.DiskId
	Bucket string
	Key    string
}

type ListObjectsMetaRequest struct {
	DiskId            common.DiskId
	Bucket            string
	StartAfter        string
	ContinuationToken string
	MaxKeys           int
}

type ListObjectsMetaResponse struct {
	Entries               []storage.Entry
	NextContinuationToken string
}

// storageServer adapts a *storage.Service, which is pure Go and knows
// nothing about gRPC, to the StorageServer wire contract above.
type storageServer struct {
	svc *storage.Service
}

// NewStorageServer wraps svc for registration against a *grpc.Server.
func NewStorageServer(svc *storage.Service) StorageServer {
	return &storageServer{svc: svc}
}

func (s *storageServer) WriteShard(_ context.Context, req *WriteShardRequest) (*WriteShardResponse, error) {
	loc, err := s.svc.WriteShard(req.DiskId, req.Shard, req.Role, req.LocalGroup, req.Data)
	if err != nil {
		return nil, err
	}
	return &WriteShardResponse{Location: loc}, nil
}

func (s *storageServer) ReadShard(_ context.Context, req *ReadShardRequest) (*ReadShardResponse, error) {
	data, err := s.svc.ReadShard(req.DiskId, req.ObjectId, req.Position)
	if err != nil {
		return nil, err
	}
	return &ReadShardResponse{Data: data}, nil
}

func (s *storageServer) DeleteShard(_ context.Context, req *DeleteShardRequest) (*Empty, error) {
	if err := s.svc.DeleteShard(req.DiskId, req.ObjectId, req.Position); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *storageServer) GetShardMeta(_ context.Context, req *GetShardMetaRequest) (*GetShardMetaResponse, error) {
	meta, err := s.svc.GetShardMeta(req.DiskId, req.ObjectId, req.Position)
	if err != nil {
		return nil, err
	}
	return &GetShardMetaResponse{Meta: meta}, nil
}

func (s *storageServer) ListShards(_ context.Context, req *ListShardsRequest) (*ListShardsResponse, error) {
	shards, err := s.svc.ListShards(req.DiskId, req.ObjectId)
	if err != nil {
		return nil, err
	}
	return &ListShardsResponse{Shards: shards}, nil
}

func (s *storageServer) PutObjectMeta(_ context.Context, req *PutObjectMetaRequest) (*Empty, error) {
	if err := s.svc.PutObjectMeta(req.DiskId, req.Bucket, req.Key, req.Value); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *storageServer) GetObjectMeta(_ context.Context, req *GetObjectMetaRequest) (*GetObjectMetaResponse, error) {
	value, found, err := s.svc.GetObjectMeta(req.DiskId, req.Bucket, req.Key)
	if err != nil {
		return nil, err
	}
	return &GetObjectMetaResponse{Value: value, Found: found}, nil
}

func (s *storageServer) DeleteObjectMeta(_ context.Context, req *DeleteObjectMetaRequest) (*Empty, error) {
	if err := s.svc.DeleteObjectMeta(req.DiskId, req.Bucket, req.Key); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *storageServer) ListObjectsMeta(_ context.Context, req *ListObjectsMetaRequest) (*ListObjectsMetaResponse, error) {
	result, err := s.svc.ListObjectsMeta(req.DiskId, req.Bucket, req.StartAfter, req.ContinuationToken, req.MaxKeys)
	if err != nil {
		return nil, err
	}
	return &ListObjectsMetaResponse{Entries: result.Entries, NextContinuationToken: result.NextContinuationToken}, nil
}

// method name constants, used both by the ServiceDesc below and by the
// client stub's Invoke calls.
const (
	methodWriteShard       = "WriteShard"
	methodReadShard        = "ReadShard"
	methodDeleteShard      = "DeleteShard"
	methodGetShardMeta     = "GetShardMeta"
	methodListShards       = "ListShards"
	methodPutObjectMeta    = "PutObjectMeta"
	methodGetObjectMeta    = "GetObjectMeta"
	methodDeleteObjectMeta = "DeleteObjectMeta"
	methodListObjectsMeta  = "ListObjectsMeta"
)

func unaryHandler[Req, Resp any](call func(context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			resp, err := call(ctx, req)
			return resp, ToGRPCError(err)
		}
		info := &grpc.UnaryServerInfo{Server: srv}
		handler := func(ctx context.Context, req any) (any, error) {
			resp, err := call(ctx, req.(*Req))
			return resp, ToGRPCError(err)
		}
		return interceptor(ctx, req, info, handler)
	}
}

// StorageServiceDesc is registered against a *grpc.Server with
// RegisterStorageServer.
var StorageServiceDesc = grpc.ServiceDesc{
	ServiceName: storageServiceName,
	HandlerType: (*StorageServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodWriteShard, Handler: storageWriteShardHandler},
		{MethodName: methodReadShard, Handler: storageReadShardHandler},
		{MethodName: methodDeleteShard, Handler: storageDeleteShardHandler},
		{MethodName: methodGetShardMeta, Handler: storageGetShardMetaHandler},
		{MethodName: methodListShards, Handler: storageListShardsHandler},
		{MethodName: methodPutObjectMeta, Handler: storagePutObjectMetaHandler},
		{MethodName: methodGetObjectMeta, Handler: storageGetObjectMetaHandler},
		{MethodName: methodDeleteObjectMeta, Handler: storageDeleteObjectMetaHandler},
		{MethodName: methodListObjectsMeta, Handler: storageListObjectsMetaHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "objectio/storage_service.proto",
}

func storageWriteShardHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(StorageServer).WriteShard)(srv, ctx, dec, interceptor)
}
func storageReadShardHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(StorageServer).ReadShard)(srv, ctx, dec, interceptor)
}
func storageDeleteShardHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(StorageServer).DeleteShard)(srv, ctx, dec, interceptor)
}
func storageGetShardMetaHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(StorageServer).GetShardMeta)(srv, ctx, dec, interceptor)
}
func storageListShardsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(StorageServer).ListShards)(srv, ctx, dec, interceptor)
}
func storagePutObjectMetaHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(StorageServer).PutObjectMeta)(srv, ctx, dec, interceptor)
}
func storageGetObjectMetaHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(StorageServer).GetObjectMeta)(srv, ctx, dec, interceptor)
}
func storageDeleteObjectMetaHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(StorageServer).DeleteObjectMeta)(srv, ctx, dec, interceptor)
}
func storageListObjectsMetaHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(StorageServer).ListObjectsMeta)(srv, ctx, dec, interceptor)
}

// RegisterStorageServer registers a StorageServer implementation against s.
func RegisterStorageServer(s grpc.ServiceRegistrar, srv StorageServer) {
	s.RegisterService(&StorageServiceDesc, srv)
}

// StorageClient is the gateway/block-gateway-side contract for calling an
// OSD's StorageService.
type StorageClient interface {
	WriteShard(ctx context.Context, req *WriteShardRequest) (*WriteShardResponse, error)
	ReadShard(ctx context.Context, req *ReadShardRequest) (*ReadShardResponse, error)
	DeleteShard(ctx context.Context, req *DeleteShardRequest) (*Empty, error)
	GetShardMeta(ctx context.Context, req *GetShardMetaRequest) (*GetShardMetaResponse, error)
	ListShards(ctx context.Context, req *ListShardsRequest) (*ListShardsResponse, error)
	PutObjectMeta(ctx context.Context, req *PutObjectMetaRequest) (*Empty, error)
	GetObjectMeta(ctx context.Context, req *GetObjectMetaRequest) (*GetObjectMetaResponse, error)
	DeleteObjectMeta(ctx context.Context, req *DeleteObjectMetaRequest) (*Empty, error)
	ListObjectsMeta(ctx context.Context, req *ListObjectsMetaRequest) (*ListObjectsMetaResponse, error)
}

type storageClient struct {
	cc grpc.ClientConnInterface
}

// NewStorageClient builds a StorageClient bound to an existing connection;
// pkg/client pools one of these per OSD.
func NewStorageClient(cc grpc.ClientConnInterface) StorageClient {
	return &storageClient{cc: cc}
}

func invoke[Req, Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, req *Req) (*Resp, error) {
	resp := new(Resp)
	fullMethod := "/" + storageServiceName + "/" + method
	if err := cc.Invoke(ctx, fullMethod, req, resp); err != nil {
		return nil, FromGRPCError(err)
	}
	return resp, nil
}

func (c *storageClient) WriteShard(ctx context.Context, req *WriteShardRequest) (*WriteShardResponse, error) {
	return invoke[WriteShardRequest, WriteShardResponse](ctx, c.cc, methodWriteShard, req)
}
func (c *storageClient) ReadShard(ctx context.Context, req *ReadShardRequest) (*ReadShardResponse, error) {
	return invoke[ReadShardRequest, ReadShardResponse](ctx, c.cc, methodReadShard, req)
}
func (c *storageClient) DeleteShard(ctx context.Context, req *DeleteShardRequest) (*Empty, error) {
	return invoke[DeleteShardRequest, Empty](ctx, c.cc, methodDeleteShard, req)
}
func (c *storageClient) GetShardMeta(ctx context.Context, req *GetShardMetaRequest) (*GetShardMetaResponse, error) {
	return invoke[GetShardMetaRequest, GetShardMetaResponse](ctx, c.cc, methodGetShardMeta, req)
}
func (c *storageClient) ListShards(ctx context.Context, req *ListShardsRequest) (*ListShardsResponse, error) {
	return invoke[ListShardsRequest, ListShardsResponse](ctx, c.cc, methodListShards, req)
}
func (c *storageClient) PutObjectMeta(ctx context.Context, req *PutObjectMetaRequest) (*Empty, error) {
	return invoke[PutObjectMetaRequest, Empty](ctx, c.cc, methodPutObjectMeta, req)
}
func (c *storageClient) GetObjectMeta(ctx context.Context, req *GetObjectMetaRequest) (*GetObjectMetaResponse, error) {
	return invoke[GetObjectMetaRequest, GetObjectMetaResponse](ctx, c.cc, methodGetObjectMeta, req)
}
func (c *storageClient) DeleteObjectMeta(ctx context.Context, req *DeleteObjectMetaRequest) (*Empty, error) {
	return invoke[DeleteObjectMetaRequest, Empty](ctx, c.cc, methodDeleteObjectMeta, req)
}
func (c *storageClient) ListObjectsMeta(ctx context.Context, req *ListObjectsMetaRequest) (*ListObjectsMetaResponse, error) {
	return invoke[ListObjectsMetaRequest, ListObjectsMetaResponse](ctx, c.cc, methodListObjectsMeta, req)
}
