package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/cloudomate/objectio/pkg/block"
)

const blockServiceName = "objectio.BlockService"

// BlockServer is the server-side contract objectio-block-gateway registers:
// volume and snapshot lifecycle plus the Read/Write/Flush/Trim data path,
// backed by a *block.Service.
type BlockServer interface {
	CreateVolume(ctx context.Context, req *CreateVolumeRequest) (*CreateVolumeResponse, error)
	DeleteVolume(ctx context.Context, req *DeleteVolumeRequest) (*Empty, error)
	GetVolume(ctx context.Context, req *GetVolumeRequest) (*GetVolumeResponse, error)
	ListVolumes(ctx context.Context, req *Empty) (*ListVolumesResponse, error)
	ResizeVolume(ctx context.Context, req *ResizeVolumeRequest) (*GetVolumeResponse, error)
	UpdateVolumeQos(ctx context.Context, req *UpdateVolumeQosRequest) (*GetVolumeResponse, error)

	CreateSnapshot(ctx context.Context, req *CreateSnapshotRequest) (*CreateSnapshotResponse, error)
	GetSnapshot(ctx context.Context, req *GetSnapshotRequest) (*GetSnapshotResponse, error)
	ListSnapshots(ctx context.Context, req *ListSnapshotsRequest) (*ListSnapshotsResponse, error)
	DeleteSnapshot(ctx context.Context, req *DeleteSnapshotRequest) (*Empty, error)
	CloneVolume(ctx context.Context, req *CloneVolumeRequest) (*CreateVolumeResponse, error)

	AttachVolume(ctx context.Context, req *AttachVolumeRequest) (*AttachVolumeResponse, error)
	DetachVolume(ctx context.Context, req *DetachVolumeRequest) (*Empty, error)
	ListAttachments(ctx context.Context, req *ListAttachmentsRequest) (*ListAttachmentsResponse, error)

	Read(ctx context.Context, req *BlockReadRequest) (*BlockReadResponse, error)
	Write(ctx context.Context, req *BlockWriteRequest) (*Empty, error)
	Flush(ctx context.Context, req *BlockFlushRequest) (*Empty, error)
	Trim(ctx context.Context, req *BlockTrimRequest) (*Empty, error)
}

type CreateVolumeRequest struct {
	Name      string
	SizeBytes int64
	Qos       block.VolumeQosConfig
}

type CreateVolumeResponse struct{ Volume block.Volume }

type DeleteVolumeRequest struct{ VolumeId string }

type GetVolumeRequest struct{ VolumeId string }

type GetVolumeResponse struct {
	Volume block.Volume
	Found  bool
}

type ListVolumesResponse struct{ Volumes []block.Volume }

type ResizeVolumeRequest struct {
	VolumeId     string
	NewSizeBytes int64
}

type UpdateVolumeQosRequest struct {
	VolumeId string
	Qos      block.VolumeQosConfig
}

type CreateSnapshotRequest struct {
	VolumeId string
	Name     string
}

type CreateSnapshotResponse struct{ Snapshot block.Snapshot }

type GetSnapshotRequest struct{ SnapshotId string }

type GetSnapshotResponse struct {
	Snapshot block.Snapshot
	Found    bool
}

type ListSnapshotsRequest struct{ VolumeId string }

type ListSnapshotsResponse struct{ Snapshots []block.Snapshot }

type DeleteSnapshotRequest struct{ SnapshotId string }

type CloneVolumeRequest struct {
	SourceVolumeId   string
	SourceSnapshotId string
	Name             string
}

type AttachVolumeRequest struct {
	VolumeId string
	Host     string
}

type AttachVolumeResponse struct{ Attachment block.Attachment }

type DetachVolumeRequest struct{ AttachmentId string }

type ListAttachmentsRequest struct{ VolumeId string }

type ListAttachmentsResponse struct{ Attachments []block.Attachment }

type BlockReadRequest struct {
	VolumeId string
	Offset   int64
	Length   int64
}

type BlockReadResponse struct{ Data []byte }

type BlockWriteRequest struct {
	VolumeId string
	Offset   int64
	Data     []byte
}

type BlockFlushRequest struct{ VolumeId string }

type BlockTrimRequest struct {
	VolumeId string
	Offset   int64
	Length   int64
}

// blockServer adapts a *block.Service, which knows nothing about gRPC, to
// the BlockServer wire contract above.
type blockServer struct {
	svc *block.Service
}

// NewBlockServer wraps svc for registration against a *grpc.Server.
func NewBlockServer(svc *block.Service) BlockServer {
	return &blockServer{svc: svc}
}

func (s *blockServer) CreateVolume(_ context.Context, req *CreateVolumeRequest) (*CreateVolumeResponse, error) {
	vol, err := s.svc.CreateVolume(req.Name, req.SizeBytes, req.Qos)
	if err != nil {
		return nil, err
	}
	return &CreateVolumeResponse{Volume: vol}, nil
}

func (s *blockServer) DeleteVolume(_ context.Context, req *DeleteVolumeRequest) (*Empty, error) {
	if err := s.svc.DeleteVolume(req.VolumeId); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *blockServer) GetVolume(_ context.Context, req *GetVolumeRequest) (*GetVolumeResponse, error) {
	vol, found, err := s.svc.GetVolume(req.VolumeId)
	if err != nil {
		return nil, err
	}
	return &GetVolumeResponse{Volume: vol, Found: found}, nil
}

func (s *blockServer) ListVolumes(_ context.Context, _ *Empty) (*ListVolumesResponse, error) {
	volumes, err := s.svc.ListVolumes()
	if err != nil {
		return nil, err
	}
	return &ListVolumesResponse{Volumes: volumes}, nil
}

func (s *blockServer) ResizeVolume(_ context.Context, req *ResizeVolumeRequest) (*GetVolumeResponse, error) {
	vol, err := s.svc.ResizeVolume(req.VolumeId, req.NewSizeBytes)
	if err != nil {
		return nil, err
	}
	return &GetVolumeResponse{Volume: vol, Found: true}, nil
}

func (s *blockServer) UpdateVolumeQos(_ context.Context, req *UpdateVolumeQosRequest) (*GetVolumeResponse, error) {
	vol, err := s.svc.UpdateVolumeQos(req.VolumeId, req.Qos)
	if err != nil {
		return nil, err
	}
	return &GetVolumeResponse{Volume: vol, Found: true}, nil
}

func (s *blockServer) CreateSnapshot(_ context.Context, req *CreateSnapshotRequest) (*CreateSnapshotResponse, error) {
	snap, err := s.svc.CreateSnapshot(req.VolumeId, req.Name)
	if err != nil {
		return nil, err
	}
	return &CreateSnapshotResponse{Snapshot: snap}, nil
}

func (s *blockServer) GetSnapshot(_ context.Context, req *GetSnapshotRequest) (*GetSnapshotResponse, error) {
	snap, found, err := s.svc.GetSnapshot(req.SnapshotId)
	if err != nil {
		return nil, err
	}
	return &GetSnapshotResponse{Snapshot: snap, Found: found}, nil
}

func (s *blockServer) ListSnapshots(_ context.Context, req *ListSnapshotsRequest) (*ListSnapshotsResponse, error) {
	snaps, err := s.svc.ListSnapshots(req.VolumeId)
	if err != nil {
		return nil, err
	}
	return &ListSnapshotsResponse{Snapshots: snaps}, nil
}

func (s *blockServer) DeleteSnapshot(_ context.Context, req *DeleteSnapshotRequest) (*Empty, error) {
	if err := s.svc.DeleteSnapshot(req.SnapshotId); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *blockServer) CloneVolume(_ context.Context, req *CloneVolumeRequest) (*CreateVolumeResponse, error) {
	vol, err := s.svc.CloneVolume(req.SourceVolumeId, req.Name, req.SourceSnapshotId)
	if err != nil {
		return nil, err
	}
	return &CreateVolumeResponse{Volume: vol}, nil
}

func (s *blockServer) AttachVolume(_ context.Context, req *AttachVolumeRequest) (*AttachVolumeResponse, error) {
	att, err := s.svc.AttachVolume(req.VolumeId, req.Host)
	if err != nil {
		return nil, err
	}
	return &AttachVolumeResponse{Attachment: att}, nil
}

func (s *blockServer) DetachVolume(_ context.Context, req *DetachVolumeRequest) (*Empty, error) {
	if err := s.svc.DetachVolume(req.AttachmentId); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *blockServer) ListAttachments(_ context.Context, req *ListAttachmentsRequest) (*ListAttachmentsResponse, error) {
	attachments, err := s.svc.ListAttachments(req.VolumeId)
	if err != nil {
		return nil, err
	}
	return &ListAttachmentsResponse{Attachments: attachments}, nil
}

func (s *blockServer) Read(_ context.Context, req *BlockReadRequest) (*BlockReadResponse, error) {
	data, err := s.svc.Read(req.VolumeId, req.Offset, req.Length)
	if err != nil {
		return nil, err
	}
	return &BlockReadResponse{Data: data}, nil
}

func (s *blockServer) Write(_ context.Context, req *BlockWriteRequest) (*Empty, error) {
	if err := s.svc.Write(req.VolumeId, req.Offset, req.Data); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *blockServer) Flush(_ context.Context, req *BlockFlushRequest) (*Empty, error) {
	if err := s.svc.Flush(req.VolumeId); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *blockServer) Trim(_ context.Context, req *BlockTrimRequest) (*Empty, error) {
	if err := s.svc.Trim(req.VolumeId, req.Offset, req.Length); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

const (
	methodCreateVolume      = "CreateVolume"
	methodDeleteVolume      = "DeleteVolume"
	methodGetVolume         = "GetVolume"
	methodListVolumes       = "ListVolumes"
	methodResizeVolume      = "ResizeVolume"
	methodUpdateVolumeQos   = "UpdateVolumeQos"
	methodCreateSnapshot    = "CreateSnapshot"
	methodGetSnapshot       = "GetSnapshot"
	methodListSnapshots     = "ListSnapshots"
	methodDeleteSnapshot    = "DeleteSnapshot"
	methodCloneVolume       = "CloneVolume"
	methodAttachVolume      = "AttachVolume"
	methodDetachVolume      = "DetachVolume"
	methodListAttachments   = "ListAttachments"
	methodBlockRead         = "Read"
	methodBlockWrite        = "Write"
	methodBlockFlush        = "Flush"
	methodBlockTrim         = "Trim"
)

// BlockServiceDesc is registered against a *grpc.Server with
// RegisterBlockServer.
var BlockServiceDesc = grpc.ServiceDesc{
	ServiceName: blockServiceName,
	HandlerType: (*BlockServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodCreateVolume, Handler: blockCreateVolumeHandler},
		{MethodName: methodDeleteVolume, Handler: blockDeleteVolumeHandler},
		{MethodName: methodGetVolume, Handler: blockGetVolumeHandler},
		{MethodName: methodListVolumes, Handler: blockListVolumesHandler},
		{MethodName: methodResizeVolume, Handler: blockResizeVolumeHandler},
		{MethodName: methodUpdateVolumeQos, Handler: blockUpdateVolumeQosHandler},
		{MethodName: methodCreateSnapshot, Handler: blockCreateSnapshotHandler},
		{MethodName: methodGetSnapshot, Handler: blockGetSnapshotHandler},
		{MethodName: methodListSnapshots, Handler: blockListSnapshotsHandler},
		{MethodName: methodDeleteSnapshot, Handler: blockDeleteSnapshotHandler},
		{MethodName: methodCloneVolume, Handler: blockCloneVolumeHandler},
		{MethodName: methodAttachVolume, Handler: blockAttachVolumeHandler},
		{MethodName: methodDetachVolume, Handler: blockDetachVolumeHandler},
		{MethodName: methodListAttachments, Handler: blockListAttachmentsHandler},
		{MethodName: methodBlockRead, Handler: blockReadHandler},
		{MethodName: methodBlockWrite, Handler: blockWriteHandler},
		{MethodName: methodBlockFlush, Handler: blockFlushHandler},
		{MethodName: methodBlockTrim, Handler: blockTrimHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "objectio/block_service.proto",
}

func blockCreateVolumeHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(BlockServer).CreateVolume)(srv, ctx, dec, i)
}
func blockDeleteVolumeHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(BlockServer).DeleteVolume)(srv, ctx, dec, i)
}
func blockGetVolumeHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(BlockServer).GetVolume)(srv, ctx, dec, i)
}
func blockListVolumesHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(BlockServer).ListVolumes)(srv, ctx, dec, i)
}
func blockResizeVolumeHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(BlockServer).ResizeVolume)(srv, ctx, dec, i)
}
func blockUpdateVolumeQosHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(BlockServer).UpdateVolumeQos)(srv, ctx, dec, i)
}
func blockCreateSnapshotHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(BlockServer).CreateSnapshot)(srv, ctx, dec, i)
}
func blockGetSnapshotHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(BlockServer).GetSnapshot)(srv, ctx, dec, i)
}
func blockListSnapshotsHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(BlockServer).ListSnapshots)(srv, ctx, dec, i)
}
func blockDeleteSnapshotHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(BlockServer).DeleteSnapshot)(srv, ctx, dec, i)
}
func blockCloneVolumeHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(BlockServer).CloneVolume)(srv, ctx, dec, i)
}
func blockAttachVolumeHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(BlockServer).AttachVolume)(srv, ctx, dec, i)
}
func blockDetachVolumeHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(BlockServer).DetachVolume)(srv, ctx, dec, i)
}
func blockListAttachmentsHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(BlockServer).ListAttachments)(srv, ctx, dec, i)
}
func blockReadHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(BlockServer).Read)(srv, ctx, dec, i)
}
func blockWriteHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(BlockServer).Write)(srv, ctx, dec, i)
}
func blockFlushHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(BlockServer).Flush)(srv, ctx, dec, i)
}
func blockTrimHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(BlockServer).Trim)(srv, ctx, dec, i)
}

// RegisterBlockServer registers a BlockServer implementation against s.
func RegisterBlockServer(s grpc.ServiceRegistrar, srv BlockServer) {
	s.RegisterService(&BlockServiceDesc, srv)
}

// BlockClient is the admin/attach-side contract for calling a block
// gateway's BlockService.
type BlockClient interface {
	CreateVolume(ctx context.Context, req *CreateVolumeRequest) (*CreateVolumeResponse, error)
	DeleteVolume(ctx context.Context, req *DeleteVolumeRequest) (*Empty, error)
	GetVolume(ctx context.Context, req *GetVolumeRequest) (*GetVolumeResponse, error)
	ListVolumes(ctx context.Context, req *Empty) (*ListVolumesResponse, error)
	ResizeVolume(ctx context.Context, req *ResizeVolumeRequest) (*GetVolumeResponse, error)
	UpdateVolumeQos(ctx context.Context, req *UpdateVolumeQosRequest) (*GetVolumeResponse, error)
	CreateSnapshot(ctx context.Context, req *CreateSnapshotRequest) (*CreateSnapshotResponse, error)
	GetSnapshot(ctx context.Context, req *GetSnapshotRequest) (*GetSnapshotResponse, error)
	ListSnapshots(ctx context.Context, req *ListSnapshotsRequest) (*ListSnapshotsResponse, error)
	DeleteSnapshot(ctx context.Context, req *DeleteSnapshotRequest) (*Empty, error)
	CloneVolume(ctx context.Context, req *CloneVolumeRequest) (*CreateVolumeResponse, error)
	AttachVolume(ctx context.Context, req *AttachVolumeRequest) (*AttachVolumeResponse, error)
	DetachVolume(ctx context.Context, req *DetachVolumeRequest) (*Empty, error)
	ListAttachments(ctx context.Context, req *ListAttachmentsRequest) (*ListAttachmentsResponse, error)
	Read(ctx context.Context, req *BlockReadRequest) (*BlockReadResponse, error)
	Write(ctx context.Context, req *BlockWriteRequest) (*Empty, error)
	Flush(ctx context.Context, req *BlockFlushRequest) (*Empty, error)
	Trim(ctx context.Context, req *BlockTrimRequest) (*Empty, error)
}

type blockClient struct {
	cc grpc.ClientConnInterface
}

// NewBlockClient builds a BlockClient bound to an existing connection.
func NewBlockClient(cc grpc.ClientConnInterface) BlockClient {
	return &blockClient{cc: cc}
}

func blockInvoke[Req, Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, req *Req) (*Resp, error) {
	resp := new(Resp)
	fullMethod := "/" + blockServiceName + "/" + method
	if err := cc.Invoke(ctx, fullMethod, req, resp); err != nil {
		return nil, FromGRPCError(err)
	}
	return resp, nil
}

func (c *blockClient) CreateVolume(ctx context.Context, req *CreateVolumeRequest) (*CreateVolumeResponse, error) {
	return blockInvoke[CreateVolumeRequest, CreateVolumeResponse](ctx, c.cc, methodCreateVolume, req)
}
func (c *blockClient) DeleteVolume(ctx context.Context, req *DeleteVolumeRequest) (*Empty, error) {
	return blockInvoke[DeleteVolumeRequest, Empty](ctx, c.cc, methodDeleteVolume, req)
}
func (c *blockClient) GetVolume(ctx context.Context, req *GetVolumeRequest) (*GetVolumeResponse, error) {
	return blockInvoke[GetVolumeRequest, GetVolumeResponse](ctx, c.cc, methodGetVolume, req)
}
func (c *blockClient) ListVolumes(ctx context.Context, req *Empty) (*ListVolumesResponse, error) {
	return blockInvoke[Empty, ListVolumesResponse](ctx, c.cc, methodListVolumes, req)
}
func (c *blockClient) ResizeVolume(ctx context.Context, req *ResizeVolumeRequest) (*GetVolumeResponse, error) {
	return blockInvoke[ResizeVolumeRequest, GetVolumeResponse](ctx, c.cc, methodResizeVolume, req)
}
func (c *blockClient) UpdateVolumeQos(ctx context.Context, req *UpdateVolumeQosRequest) (*GetVolumeResponse, error) {
	return blockInvoke[UpdateVolumeQosRequest, GetVolumeResponse](ctx, c.cc, methodUpdateVolumeQos, req)
}
func (c *blockClient) CreateSnapshot(ctx context.Context, req *CreateSnapshotRequest) (*CreateSnapshotResponse, error) {
	return blockInvoke[CreateSnapshotRequest, CreateSnapshotResponse](ctx, c.cc, methodCreateSnapshot, req)
}
func (c *blockClient) GetSnapshot(ctx context.Context, req *GetSnapshotRequest) (*GetSnapshotResponse, error) {
	return blockInvoke[GetSnapshotRequest, GetSnapshotResponse](ctx, c.cc, methodGetSnapshot, req)
}
func (c *blockClient) ListSnapshots(ctx context.Context, req *ListSnapshotsRequest) (*ListSnapshotsResponse, error) {
	return blockInvoke[ListSnapshotsRequest, ListSnapshotsResponse](ctx, c.cc, methodListSnapshots, req)
}
func (c *blockClient) DeleteSnapshot(ctx context.Context, req *DeleteSnapshotRequest) (*Empty, error) {
	return blockInvoke[DeleteSnapshotRequest, Empty](ctx, c.cc, methodDeleteSnapshot, req)
}
func (c *blockClient) CloneVolume(ctx context.Context, req *CloneVolumeRequest) (*CreateVolumeResponse, error) {
	return blockInvoke[CloneVolumeRequest, CreateVolumeResponse](ctx, c.cc, methodCloneVolume, req)
}
func (c *blockClient) AttachVolume(ctx context.Context, req *AttachVolumeRequest) (*AttachVolumeResponse, error) {
	return blockInvoke[AttachVolumeRequest, AttachVolumeResponse](ctx, c.cc, methodAttachVolume, req)
}
func (c *blockClient) DetachVolume(ctx context.Context, req *DetachVolumeRequest) (*Empty, error) {
	return blockInvoke[DetachVolumeRequest, Empty](ctx, c.cc, methodDetachVolume, req)
}
func (c *blockClient) ListAttachments(ctx context.Context, req *ListAttachmentsRequest) (*ListAttachmentsResponse, error) {
	return blockInvoke[ListAttachmentsRequest, ListAttachmentsResponse](ctx, c.cc, methodListAttachments, req)
}
func (c *blockClient) Read(ctx context.Context, req *BlockReadRequest) (*BlockReadResponse, error) {
	return blockInvoke[BlockReadRequest, BlockReadResponse](ctx, c.cc, methodBlockRead, req)
}
func (c *blockClient) Write(ctx context.Context, req *BlockWriteRequest) (*Empty, error) {
	return blockInvoke[BlockWriteRequest, Empty](ctx, c.cc, methodBlockWrite, req)
}
func (c *blockClient) Flush(ctx context.Context, req *BlockFlushRequest) (*Empty, error) {
	return blockInvoke[BlockFlushRequest, Empty](ctx, c.cc, methodBlockFlush, req)
}
func (c *blockClient) Trim(ctx context.Context, req *BlockTrimRequest) (*Empty, error) {
	return blockInvoke[BlockTrimRequest, Empty](ctx, c.cc, methodBlockTrim, req)
}
