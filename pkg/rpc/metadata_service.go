package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/cloudomate/objectio/pkg/common"
	"github.com/cloudomate/objectio/pkg/meta"
	"github.com/cloudomate/objectio/pkg/placement"
)

const metadataServiceName = "objectio.MetadataService"

// MetadataServer is the server-side contract objectio-meta registers: the
// full wire surface named in spec.md's MetadataService enumeration, backed
// by a *meta.Store and a *meta.TopologyManager over the same bbolt file.
type MetadataServer interface {
	CreateBucket(ctx context.Context, req *CreateBucketRequest) (*Empty, error)
	GetBucket(ctx context.Context, req *GetBucketRequest) (*GetBucketResponse, error)
	DeleteBucket(ctx context.Context, req *DeleteBucketRequest) (*Empty, error)
	ListBuckets(ctx context.Context, req *Empty) (*ListBucketsResponse, error)

	SetBucketPolicy(ctx context.Context, req *SetBucketPolicyRequest) (*Empty, error)
	GetBucketPolicy(ctx context.Context, req *GetBucketPolicyRequest) (*GetBucketPolicyResponse, error)
	DeleteBucketPolicy(ctx context.Context, req *DeleteBucketPolicyRequest) (*Empty, error)

	CreateUser(ctx context.Context, req *CreateUserRequest) (*Empty, error)
	GetUser(ctx context.Context, req *GetUserRequest) (*GetUserResponse, error)
	DeleteUser(ctx context.Context, req *DeleteUserRequest) (*Empty, error)

	CreateAccessKey(ctx context.Context, req *CreateAccessKeyRequest) (*Empty, error)
	GetAccessKey(ctx context.Context, req *GetAccessKeyRequest) (*GetAccessKeyResponse, error)
	DeleteAccessKey(ctx context.Context, req *DeleteAccessKeyRequest) (*Empty, error)

	RegisterOsd(ctx context.Context, req *RegisterOsdRequest) (*RegisterOsdResponse, error)
	GetPlacement(ctx context.Context, req *GetPlacementRequest) (*GetPlacementResponse, error)
	GetListingNodes(ctx context.Context, req *GetListingNodesRequest) (*GetListingNodesResponse, error)

	CreateMultipartUpload(ctx context.Context, req *CreateMultipartUploadRequest) (*CreateMultipartUploadResponse, error)
	RegisterPart(ctx context.Context, req *RegisterPartRequest) (*Empty, error)
	CompleteMultipartUpload(ctx context.Context, req *CompleteMultipartUploadRequest) (*CompleteMultipartUploadResponse, error)
	AbortMultipartUpload(ctx context.Context, req *AbortMultipartUploadRequest) (*Empty, error)

	IcebergCreateNamespace(ctx context.Context, req *IcebergCreateNamespaceRequest) (*Empty, error)
	IcebergLoadNamespace(ctx context.Context, req *IcebergLoadNamespaceRequest) (*IcebergLoadNamespaceResponse, error)
	IcebergDropNamespace(ctx context.Context, req *IcebergDropNamespaceRequest) (*Empty, error)
	IcebergCreateTable(ctx context.Context, req *IcebergCreateTableRequest) (*Empty, error)
	IcebergLoadTable(ctx context.Context, req *IcebergLoadTableRequest) (*IcebergLoadTableResponse, error)
	IcebergCommitTable(ctx context.Context, req *IcebergCommitTableRequest) (*IcebergCommitTableResponse, error)
	IcebergDropTable(ctx context.Context, req *IcebergDropTableRequest) (*Empty, error)
	IcebergRenameTable(ctx context.Context, req *IcebergRenameTableRequest) (*Empty, error)
}

// --- bucket/policy/user/key messages ---

type CreateBucketRequest struct{ Bucket meta.Bucket }
type GetBucketRequest struct{ Name string }
type GetBucketResponse struct{ Bucket meta.Bucket }
type DeleteBucketRequest struct{ Name string }
type ListBucketsResponse struct{ Buckets []meta.Bucket }

type SetBucketPolicyRequest struct{ Policy meta.BucketPolicy }
type GetBucketPolicyRequest struct{ Bucket string }
type GetBucketPolicyResponse struct{ Policy meta.BucketPolicy }
type DeleteBucketPolicyRequest struct{ Bucket string }

type CreateUserRequest struct{ User meta.User }
type GetUserRequest struct{ Id string }
type GetUserResponse struct{ User meta.User }
type DeleteUserRequest struct{ Id string }

type CreateAccessKeyRequest struct{ Key meta.AccessKey }
type GetAccessKeyRequest struct{ AccessKeyId string }
type GetAccessKeyResponse struct{ Key meta.AccessKey }
type DeleteAccessKeyRequest struct{ AccessKeyId string }

// --- topology/placement messages ---

type RegisterOsdRequest struct {
	NodeId  common.NodeId
	Address string
	Name    string
	DiskIds []common.DiskId
	Domain  placement.FailureDomainInfo
	Weight  float64
}

type RegisterOsdResponse struct{ TopologyVersion uint64 }

type GetPlacementRequest struct {
	ObjectId     common.ObjectId
	StorageClass string
	Template     placement.PlacementTemplate
}

type GetPlacementResponse struct{ Result meta.PlacementResult }

type GetListingNodesRequest struct{ Bucket string }

type GetListingNodesResponse struct {
	Nodes           []placement.NodeInfo
	TopologyVersion uint64
}

// --- multipart messages ---

type CreateMultipartUploadRequest struct {
	Bucket       string
	Key          string
	StorageClass string
}

type CreateMultipartUploadResponse struct{ UploadId string }

type RegisterPartRequest struct {
	UploadId string
	Part     meta.PartInfo
}

type CompleteMultipartUploadRequest struct {
	UploadId string
	Parts    []meta.ExpectedPart
}

type CompleteMultipartUploadResponse struct{ Object meta.AssembledObject }

type AbortMultipartUploadRequest struct{ UploadId string }

// --- Iceberg messages ---

type IcebergCreateNamespaceRequest struct {
	Path       string
	Properties map[string]string
}

type IcebergLoadNamespaceRequest struct{ Path string }
type IcebergLoadNamespaceResponse struct{ Namespace meta.IcebergNamespace }
type IcebergDropNamespaceRequest struct{ Path string }

type IcebergCreateTableRequest struct {
	Namespace        string
	Name             string
	MetadataLocation string
}

type IcebergLoadTableRequest struct {
	Namespace string
	Name      string
}
type IcebergLoadTableResponse struct{ Table meta.IcebergTable }

type IcebergCommitTableRequest struct {
	Namespace string
	Name      string
	Current   string
	Next      string
}
type IcebergCommitTableResponse struct{ Table meta.IcebergTable }

type IcebergDropTableRequest struct {
	Namespace string
	Name      string
}

type IcebergRenameTableRequest struct {
	SrcNamespace string
	SrcName      string
	DstNamespace string
	DstName      string
}

// metadataServer adapts a *meta.Store plus a *meta.TopologyManager to the
// MetadataServer wire contract.
type metadataServer struct {
	store *meta.Store
	topo  *meta.TopologyManager
}

// NewMetadataServer wraps store/topo for registration against a
// *grpc.Server.
func NewMetadataServer(store *meta.Store, topo *meta.TopologyManager) MetadataServer {
	return &metadataServer{store: store, topo: topo}
}

func (m *metadataServer) CreateBucket(_ context.Context, req *CreateBucketRequest) (*Empty, error) {
	if err := m.store.CreateBucket(req.Bucket); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (m *metadataServer) GetBucket(_ context.Context, req *GetBucketRequest) (*GetBucketResponse, error) {
	b, err := m.store.GetBucket(req.Name)
	if err != nil {
		return nil, err
	}
	return &GetBucketResponse{Bucket: b}, nil
}

func (m *metadataServer) DeleteBucket(_ context.Context, req *DeleteBucketRequest) (*Empty, error) {
	if err := m.store.DeleteBucket(req.Name); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (m *metadataServer) ListBuckets(_ context.Context, _ *Empty) (*ListBucketsResponse, error) {
	buckets, err := m.store.ListBuckets()
	if err != nil {
		return nil, err
	}
	return &ListBucketsResponse{Buckets: buckets}, nil
}

func (m *metadataServer) SetBucketPolicy(_ context.Context, req *SetBucketPolicyRequest) (*Empty, error) {
	if err := m.store.SetBucketPolicy(req.Policy); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (m *metadataServer) GetBucketPolicy(_ context.Context, req *GetBucketPolicyRequest) (*GetBucketPolicyResponse, error) {
	p, err := m.store.GetBucketPolicy(req.Bucket)
	if err != nil {
		return nil, err
	}
	return &GetBucketPolicyResponse{Policy: p}, nil
}

func (m *metadataServer) DeleteBucketPolicy(_ context.Context, req *DeleteBucketPolicyRequest) (*Empty, error) {
	if err := m.store.DeleteBucketPolicy(req.Bucket); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (m *metadataServer) CreateUser(_ context.Context, req *CreateUserRequest) (*Empty, error) {
	if err := m.store.CreateUser(req.User); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (m *metadataServer) GetUser(_ context.Context, req *GetUserRequest) (*GetUserResponse, error) {
	u, err := m.store.GetUser(req.Id)
	if err != nil {
		return nil, err
	}
	return &GetUserResponse{User: u}, nil
}

func (m *metadataServer) DeleteUser(_ context.Context, req *DeleteUserRequest) (*Empty, error) {
	if err := m.store.DeleteUser(req.Id); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (m *metadataServer) CreateAccessKey(_ context.Context, req *CreateAccessKeyRequest) (*Empty, error) {
	if err := m.store.CreateAccessKey(req.Key); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (m *metadataServer) GetAccessKey(_ context.Context, req *GetAccessKeyRequest) (*GetAccessKeyResponse, error) {
	k, err := m.store.GetAccessKey(req.AccessKeyId)
	if err != nil {
		return nil, err
	}
	return &GetAccessKeyResponse{Key: k}, nil
}

func (m *metadataServer) DeleteAccessKey(_ context.Context, req *DeleteAccessKeyRequest) (*Empty, error) {
	if err := m.store.DeleteAccessKey(req.AccessKeyId); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (m *metadataServer) RegisterOsd(_ context.Context, req *RegisterOsdRequest) (*RegisterOsdResponse, error) {
	version, err := m.topo.RegisterOsd(req.NodeId, req.Address, req.Name, req.DiskIds, req.Domain, req.Weight)
	if err != nil {
		return nil, err
	}
	return &RegisterOsdResponse{TopologyVersion: version}, nil
}

func (m *metadataServer) GetPlacement(_ context.Context, req *GetPlacementRequest) (*GetPlacementResponse, error) {
	result := m.topo.GetPlacement(req.ObjectId, req.StorageClass, req.Template)
	return &GetPlacementResponse{Result: result}, nil
}

func (m *metadataServer) GetListingNodes(_ context.Context, req *GetListingNodesRequest) (*GetListingNodesResponse, error) {
	nodes, version := m.topo.GetListingNodes(req.Bucket)
	return &GetListingNodesResponse{Nodes: nodes, TopologyVersion: version}, nil
}

func (m *metadataServer) CreateMultipartUpload(_ context.Context, req *CreateMultipartUploadRequest) (*CreateMultipartUploadResponse, error) {
	uploadId, err := m.store.CreateMultipartUpload(req.Bucket, req.Key, req.StorageClass)
	if err != nil {
		return nil, err
	}
	return &CreateMultipartUploadResponse{UploadId: uploadId}, nil
}

func (m *metadataServer) RegisterPart(_ context.Context, req *RegisterPartRequest) (*Empty, error) {
	if err := m.store.RegisterPart(req.UploadId, req.Part); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (m *metadataServer) CompleteMultipartUpload(_ context.Context, req *CompleteMultipartUploadRequest) (*CompleteMultipartUploadResponse, error) {
	obj, err := m.store.CompleteMultipartUpload(req.UploadId, req.Parts)
	if err != nil {
		return nil, err
	}
	return &CompleteMultipartUploadResponse{Object: obj}, nil
}

func (m *metadataServer) AbortMultipartUpload(_ context.Context, req *AbortMultipartUploadRequest) (*Empty, error) {
	if err := m.store.AbortMultipartUpload(req.UploadId); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (m *metadataServer) IcebergCreateNamespace(_ context.Context, req *IcebergCreateNamespaceRequest) (*Empty, error) {
	if err := m.store.IcebergCreateNamespace(req.Path, req.Properties); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (m *metadataServer) IcebergLoadNamespace(_ context.Context, req *IcebergLoadNamespaceRequest) (*IcebergLoadNamespaceResponse, error) {
	ns, err := m.store.IcebergLoadNamespace(req.Path)
	if err != nil {
		return nil, err
	}
	return &IcebergLoadNamespaceResponse{Namespace: ns}, nil
}

func (m *metadataServer) IcebergDropNamespace(_ context.Context, req *IcebergDropNamespaceRequest) (*Empty, error) {
	if err := m.store.IcebergDropNamespace(req.Path); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (m *metadataServer) IcebergCreateTable(_ context.Context, req *IcebergCreateTableRequest) (*Empty, error) {
	if err := m.store.IcebergCreateTable(req.Namespace, req.Name, req.MetadataLocation); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (m *metadataServer) IcebergLoadTable(_ context.Context, req *IcebergLoadTableRequest) (*IcebergLoadTableResponse, error) {
	t, err := m.store.IcebergLoadTable(req.Namespace, req.Name)
	if err != nil {
		return nil, err
	}
	return &IcebergLoadTableResponse{Table: t}, nil
}

func (m *metadataServer) IcebergCommitTable(_ context.Context, req *IcebergCommitTableRequest) (*IcebergCommitTableResponse, error) {
	t, err := m.store.IcebergCommitTable(req.Namespace, req.Name, req.Current, req.Next)
	if err != nil {
		return nil, err
	}
	return &IcebergCommitTableResponse{Table: t}, nil
}

func (m *metadataServer) IcebergDropTable(_ context.Context, req *IcebergDropTableRequest) (*Empty, error) {
	if err := m.store.IcebergDropTable(req.Namespace, req.Name); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (m *metadataServer) IcebergRenameTable(_ context.Context, req *IcebergRenameTableRequest) (*Empty, error) {
	if err := m.store.IcebergRenameTable(req.SrcNamespace, req.SrcName, req.DstNamespace, req.DstName); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

// method names
const (
	mmCreateBucket            = "CreateBucket"
	mmGetBucket               = "GetBucket"
	mmDeleteBucket            = "DeleteBucket"
	mmListBuckets             = "ListBuckets"
	mmSetBucketPolicy         = "SetBucketPolicy"
	mmGetBucketPolicy         = "GetBucketPolicy"
	mmDeleteBucketPolicy      = "DeleteBucketPolicy"
	mmCreateUser              = "CreateUser"
	mmGetUser                 = "GetUser"
	mmDeleteUser              = "DeleteUser"
	mmCreateAccessKey         = "CreateAccessKey"
	mmGetAccessKey            = "GetAccessKey"
	mmDeleteAccessKey         = "DeleteAccessKey"
	mmRegisterOsd             = "RegisterOsd"
	mmGetPlacement            = "GetPlacement"
	mmGetListingNodes         = "GetListingNodes"
	mmCreateMultipartUpload   = "CreateMultipartUpload"
	mmRegisterPart            = "RegisterPart"
	mmCompleteMultipartUpload = "CompleteMultipartUpload"
	mmAbortMultipartUpload    = "AbortMultipartUpload"
	mmIcebergCreateNamespace  = "IcebergCreateNamespace"
	mmIcebergLoadNamespace    = "IcebergLoadNamespace"
	mmIcebergDropNamespace    = "IcebergDropNamespace"
	mmIcebergCreateTable      = "IcebergCreateTable"
	mmIcebergLoadTable        = "IcebergLoadTable"
	mmIcebergCommitTable      = "IcebergCommitTable"
	mmIcebergDropTable        = "IcebergDropTable"
	mmIcebergRenameTable      = "IcebergRenameTable"
)

var MetadataServiceDesc = grpc.ServiceDesc{
	ServiceName: metadataServiceName,
	HandlerType: (*MetadataServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: mmCreateBucket, Handler: metaCreateBucketHandler},
		{MethodName: mmGetBucket, Handler: metaGetBucketHandler},
		{MethodName: mmDeleteBucket, Handler: metaDeleteBucketHandler},
		{MethodName: mmListBuckets, Handler: metaListBucketsHandler},
		{MethodName: mmSetBucketPolicy, Handler: metaSetBucketPolicyHandler},
		{MethodName: mmGetBucketPolicy, Handler: metaGetBucketPolicyHandler},
		{MethodName: mmDeleteBucketPolicy, Handler: metaDeleteBucketPolicyHandler},
		{MethodName: mmCreateUser, Handler: metaCreateUserHandler},
		{MethodName: mmGetUser, Handler: metaGetUserHandler},
		{MethodName: mmDeleteUser, Handler: metaDeleteUserHandler},
		{MethodName: mmCreateAccessKey, Handler: metaCreateAccessKeyHandler},
		{MethodName: mmGetAccessKey, Handler: metaGetAccessKeyHandler},
		{MethodName: mmDeleteAccessKey, Handler: metaDeleteAccessKeyHandler},
		{MethodName: mmRegisterOsd, Handler: metaRegisterOsdHandler},
		{MethodName: mmGetPlacement, Handler: metaGetPlacementHandler},
		{MethodName: mmGetListingNodes, Handler: metaGetListingNodesHandler},
		{MethodName: mmCreateMultipartUpload, Handler: metaCreateMultipartUploadHandler},
		{MethodName: mmRegisterPart, Handler: metaRegisterPartHandler},
		{MethodName: mmCompleteMultipartUpload, Handler: metaCompleteMultipartUploadHandler},
		{MethodName: mmAbortMultipartUpload, Handler: metaAbortMultipartUploadHandler},
		{MethodName: mmIcebergCreateNamespace, Handler: metaIcebergCreateNamespaceHandler},
		{MethodName: mmIcebergLoadNamespace, Handler: metaIcebergLoadNamespaceHandler},
		{MethodName: mmIcebergDropNamespace, Handler: metaIcebergDropNamespaceHandler},
		{MethodName: mmIcebergCreateTable, Handler: metaIcebergCreateTableHandler},
		{MethodName: mmIcebergLoadTable, Handler: metaIcebergLoadTableHandler},
		{MethodName: mmIcebergCommitTable, Handler: metaIcebergCommitTableHandler},
		{MethodName: mmIcebergDropTable, Handler: metaIcebergDropTableHandler},
		{MethodName: mmIcebergRenameTable, Handler: metaIcebergRenameTableHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "objectio/metadata_service.proto",
}

func metaCreateBucketHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(MetadataServer).CreateBucket)(srv, ctx, dec, i)
}
func metaGetBucketHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(MetadataServer).GetBucket)(srv, ctx, dec, i)
}
func metaDeleteBucketHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(MetadataServer).DeleteBucket)(srv, ctx, dec, i)
}
func metaListBucketsHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(MetadataServer).ListBuckets)(srv, ctx, dec, i)
}
func metaSetBucketPolicyHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(MetadataServer).SetBucketPolicy)(srv, ctx, dec, i)
}
func metaGetBucketPolicyHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(MetadataServer).GetBucketPolicy)(srv, ctx, dec, i)
}
func metaDeleteBucketPolicyHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(MetadataServer).DeleteBucketPolicy)(srv, ctx, dec, i)
}
func metaCreateUserHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(MetadataServer).CreateUser)(srv, ctx, dec, i)
}
func metaGetUserHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(MetadataServer).GetUser)(srv, ctx, dec, i)
}
func metaDeleteUserHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(MetadataServer).DeleteUser)(srv, ctx, dec, i)
}
func metaCreateAccessKeyHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(MetadataServer).CreateAccessKey)(srv, ctx, dec, i)
}
func metaGetAccessKeyHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(MetadataServer).GetAccessKey)(srv, ctx, dec, i)
}
func metaDeleteAccessKeyHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(MetadataServer).DeleteAccessKey)(srv, ctx, dec, i)
}
func metaRegisterOsdHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(MetadataServer).RegisterOsd)(srv, ctx, dec, i)
}
func metaGetPlacementHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(MetadataServer).GetPlacement)(srv, ctx, dec, i)
}
func metaGetListingNodesHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(MetadataServer).GetListingNodes)(srv, ctx, dec, i)
}
func metaCreateMultipartUploadHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(MetadataServer).CreateMultipartUpload)(srv, ctx, dec, i)
}
func metaRegisterPartHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(MetadataServer).RegisterPart)(srv, ctx, dec, i)
}
func metaCompleteMultipartUploadHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(MetadataServer).CompleteMultipartUpload)(srv, ctx, dec, i)
}
func metaAbortMultipartUploadHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(MetadataServer).AbortMultipartUpload)(srv, ctx, dec, i)
}
func metaIcebergCreateNamespaceHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(MetadataServer).IcebergCreateNamespace)(srv, ctx, dec, i)
}
func metaIcebergLoadNamespaceHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(MetadataServer).IcebergLoadNamespace)(srv, ctx, dec, i)
}
func metaIcebergDropNamespaceHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(MetadataServer).IcebergDropNamespace)(srv, ctx, dec, i)
}
func metaIcebergCreateTableHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(MetadataServer).IcebergCreateTable)(srv, ctx, dec, i)
}
func metaIcebergLoadTableHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(MetadataServer).IcebergLoadTable)(srv, ctx, dec, i)
}
func metaIcebergCommitTableHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(MetadataServer).IcebergCommitTable)(srv, ctx, dec, i)
}
func metaIcebergDropTableHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(MetadataServer).IcebergDropTable)(srv, ctx, dec, i)
}
func metaIcebergRenameTableHandler(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv.(MetadataServer).IcebergRenameTable)(srv, ctx, dec, i)
}

// RegisterMetadataServer registers a MetadataServer implementation against s.
func RegisterMetadataServer(s grpc.ServiceRegistrar, srv MetadataServer) {
	s.RegisterService(&MetadataServiceDesc, srv)
}

// MetadataClient is the gateway-side contract for calling the metadata
// service; pkg/client wraps one connection per gateway process (unlike
// StorageClient, there is exactly one metadata service to dial).
type MetadataClient interface {
	CreateBucket(ctx context.Context, req *CreateBucketRequest) (*Empty, error)
	GetBucket(ctx context.Context, req *GetBucketRequest) (*GetBucketResponse, error)
	DeleteBucket(ctx context.Context, req *DeleteBucketRequest) (*Empty, error)
	ListBuckets(ctx context.Context, req *Empty) (*ListBucketsResponse, error)
	SetBucketPolicy(ctx context.Context, req *SetBucketPolicyRequest) (*Empty, error)
	GetBucketPolicy(ctx context.Context, req *GetBucketPolicyRequest) (*GetBucketPolicyResponse, error)
	DeleteBucketPolicy(ctx context.Context, req *DeleteBucketPolicyRequest) (*Empty, error)
	CreateUser(ctx context.Context, req *CreateUserRequest) (*Empty, error)
	GetUser(ctx context.Context, req *GetUserRequest) (*GetUserResponse, error)
	DeleteUser(ctx context.Context, req *DeleteUserRequest) (*Empty, error)
	CreateAccessKey(ctx context.Context, req *CreateAccessKeyRequest) (*Empty, error)
	GetAccessKey(ctx context.Context, req *GetAccessKeyRequest) (*GetAccessKeyResponse, error)
	DeleteAccessKey(ctx context.Context, req *DeleteAccessKeyRequest) (*Empty, error)
	RegisterOsd(ctx context.Context, req *RegisterOsdRequest) (*RegisterOsdResponse, error)
	GetPlacement(ctx context.Context, req *GetPlacementRequest) (*GetPlacementResponse, error)
	GetListingNodes(ctx context.Context, req *GetListingNodesRequest) (*GetListingNodesResponse, error)
	CreateMultipartUpload(ctx context.Context, req *CreateMultipartUploadRequest) (*CreateMultipartUploadResponse, error)
	RegisterPart(ctx context.Context, req *RegisterPartRequest) (*Empty, error)
	CompleteMultipartUpload(ctx context.Context, req *CompleteMultipartUploadRequest) (*CompleteMultipartUploadResponse, error)
	AbortMultipartUpload(ctx context.Context, req *AbortMultipartUploadRequest) (*Empty, error)
	IcebergCreateNamespace(ctx context.Context, req *IcebergCreateNamespaceRequest) (*Empty, error)
	IcebergLoadNamespace(ctx context.Context, req *IcebergLoadNamespaceRequest) (*IcebergLoadNamespaceResponse, error)
	IcebergDropNamespace(ctx context.Context, req *IcebergDropNamespaceRequest) (*Empty, error)
	IcebergCreateTable(ctx context.Context, req *IcebergCreateTableRequest) (*Empty, error)
	IcebergLoadTable(ctx context.Context, req *IcebergLoadTableRequest) (*IcebergLoadTableResponse, error)
	IcebergCommitTable(ctx context.Context, req *IcebergCommitTableRequest) (*IcebergCommitTableResponse, error)
	IcebergDropTable(ctx context.Context, req *IcebergDropTableRequest) (*Empty, error)
	IcebergRenameTable(ctx context.Context, req *IcebergRenameTableRequest) (*Empty, error)
}

type metadataClient struct {
	cc grpc.ClientConnInterface
}

// NewMetadataClient builds a MetadataClient bound to an existing connection.
func NewMetadataClient(cc grpc.ClientConnInterface) MetadataClient {
	return &metadataClient{cc: cc}
}

func metaInvoke[Req, Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, req *Req) (*Resp, error) {
	resp := new(Resp)
	fullMethod := "/" + metadataServiceName + "/" + method
	if err := cc.Invoke(ctx, fullMethod, req, resp); err != nil {
		return nil, FromGRPCError(err)
	}
	return resp, nil
}

func (c *metadataClient) CreateBucket(ctx context.Context, req *CreateBucketRequest) (*Empty, error) {
	return metaInvoke[CreateBucketRequest, Empty](ctx, c.cc, mmCreateBucket, req)
}
func (c *metadataClient) GetBucket(ctx context.Context, req *GetBucketRequest) (*GetBucketResponse, error) {
	return metaInvoke[GetBucketRequest, GetBucketResponse](ctx, c.cc, mmGetBucket, req)
}
func (c *metadataClient) DeleteBucket(ctx context.Context, req *DeleteBucketRequest) (*Empty, error) {
	return metaInvoke[DeleteBucketRequest, Empty](ctx, c.cc, mmDeleteBucket, req)
}
func (c *metadataClient) ListBuckets(ctx context.Context, req *Empty) (*ListBucketsResponse, error) {
	return metaInvoke[Empty, ListBucketsResponse](ctx, c.cc, mmListBuckets, req)
}
func (c *metadataClient) SetBucketPolicy(ctx context.Context, req *SetBucketPolicyRequest) (*Empty, error) {
	return metaInvoke[SetBucketPolicyRequest, Empty](ctx, c.cc, mmSetBucketPolicy, req)
}
func (c *metadataClient) GetBucketPolicy(ctx context.Context, req *GetBucketPolicyRequest) (*GetBucketPolicyResponse, error) {
	return metaInvoke[GetBucketPolicyRequest, GetBucketPolicyResponse](ctx, c.cc, mmGetBucketPolicy, req)
}
func (c *metadataClient) DeleteBucketPolicy(ctx context.Context, req *DeleteBucketPolicyRequest) (*Empty, error) {
	return metaInvoke[DeleteBucketPolicyRequest, Empty](ctx, c.cc, mmDeleteBucketPolicy, req)
}
func (c *metadataClient) CreateUser(ctx context.Context, req *CreateUserRequest) (*Empty, error) {
	return metaInvoke[CreateUserRequest, Empty](ctx, c.cc, mmCreateUser, req)
}
func (c *metadataClient) GetUser(ctx context.Context, req *GetUserRequest) (*GetUserResponse, error) {
	return metaInvoke[GetUserRequest, GetUserResponse](ctx, c.cc, mmGetUser, req)
}
func (c *metadataClient) DeleteUser(ctx context.Context, req *DeleteUserRequest) (*Empty, error) {
	return metaInvoke[DeleteUserRequest, Empty](ctx, c.cc, mmDeleteUser, req)
}
func (c *metadataClient) CreateAccessKey(ctx context.Context, req *CreateAccessKeyRequest) (*Empty, error) {
	return metaInvoke[CreateAccessKeyRequest, Empty](ctx, c.cc, mmCreateAccessKey, req)
}
func (c *metadataClient) GetAccessKey(ctx context.Context, req *GetAccessKeyRequest) (*GetAccessKeyResponse, error) {
	return metaInvoke[GetAccessKeyRequest, GetAccessKeyResponse](ctx, c.cc, mmGetAccessKey, req)
}
func (c *metadataClient) DeleteAccessKey(ctx context.Context, req *DeleteAccessKeyRequest) (*Empty, error) {
	return metaInvoke[DeleteAccessKeyRequest, Empty](ctx, c.cc, mmDeleteAccessKey, req)
}
func (c *metadataClient) RegisterOsd(ctx context.Context, req *RegisterOsdRequest) (*RegisterOsdResponse, error) {
	return metaInvoke[RegisterOsdRequest, RegisterOsdResponse](ctx, c.cc, mmRegisterOsd, req)
}
func (c *metadataClient) GetPlacement(ctx context.Context, req *GetPlacementRequest) (*GetPlacementResponse, error) {
	return metaInvoke[GetPlacementRequest, GetPlacementResponse](ctx, c.cc, mmGetPlacement, req)
}
func (c *metadataClient) GetListingNodes(ctx context.Context, req *GetListingNodesRequest) (*GetListingNodesResponse, error) {
	return metaInvoke[GetListingNodesRequest, GetListingNodesResponse](ctx, c.cc, mmGetListingNodes, req)
}
func (c *metadataClient) CreateMultipartUpload(ctx context.Context, req *CreateMultipartUploadRequest) (*CreateMultipartUploadResponse, error) {
	return metaInvoke[CreateMultipartUploadRequest, CreateMultipartUploadResponse](ctx, c.cc, mmCreateMultipartUpload, req)
}
func (c *metadataClient) RegisterPart(ctx context.Context, req *RegisterPartRequest) (*Empty, error) {
	return metaInvoke[RegisterPartRequest, Empty](ctx, c.cc, mmRegisterPart, req)
}
func (c *metadataClient) CompleteMultipartUpload(ctx context.Context, req *CompleteMultipartUploadRequest) (*CompleteMultipartUploadResponse, error) {
	return metaInvoke[CompleteMultipartUploadRequest, CompleteMultipartUploadResponse](ctx, c.cc, mmCompleteMultipartUpload, req)
}
func (c *metadataClient) AbortMultipartUpload(ctx context.Context, req *AbortMultipartUploadRequest) (*Empty, error) {
	return metaInvoke[AbortMultipartUploadRequest, Empty](ctx, c.cc, mmAbortMultipartUpload, req)
}
func (c *metadataClient) IcebergCreateNamespace(ctx context.Context, req *IcebergCreateNamespaceRequest) (*Empty, error) {
	return metaInvoke[IcebergCreateNamespaceRequest, Empty](ctx, c.cc, mmIcebergCreateNamespace, req)
}
func (c *metadataClient) IcebergLoadNamespace(ctx context.Context, req *IcebergLoadNamespaceRequest) (*IcebergLoadNamespaceResponse, error) {
	return metaInvoke[IcebergLoadNamespaceRequest, IcebergLoadNamespaceResponse](ctx, c.cc, mmIcebergLoadNamespace, req)
}
func (c *metadataClient) IcebergDropNamespace(ctx context.Context, req *IcebergDropNamespaceRequest) (*Empty, error) {
	return metaInvoke[IcebergDropNamespaceRequest, Empty](ctx, c.cc, mmIcebergDropNamespace, req)
}
func (c *metadataClient) IcebergCreateTable(ctx context.Context, req *IcebergCreateTableRequest) (*Empty, error) {
	return metaInvoke[IcebergCreateTableRequest, Empty](ctx, c.cc, mmIcebergCreateTable, req)
}
func (c *metadataClient) IcebergLoadTable(ctx context.Context, req *IcebergLoadTableRequest) (*IcebergLoadTableResponse, error) {
	return metaInvoke[IcebergLoadTableRequest, IcebergLoadTableResponse](ctx, c.cc, mmIcebergLoadTable, req)
}
func (c *metadataClient) IcebergCommitTable(ctx context.Context, req *IcebergCommitTableRequest) (*IcebergCommitTableResponse, error) {
	return metaInvoke[IcebergCommitTableRequest, IcebergCommitTableResponse](ctx, c.cc, mmIcebergCommitTable, req)
}
func (c *metadataClient) IcebergDropTable(ctx context.Context, req *IcebergDropTableRequest) (*Empty, error) {
	return metaInvoke[IcebergDropTableRequest, Empty](ctx, c.cc, mmIcebergDropTable, req)
}
func (c *metadataClient) IcebergRenameTable(ctx context.Context, req *IcebergRenameTableRequest) (*Empty, error) {
	return metaInvoke[IcebergRenameTableRequest, Empty](ctx, c.cc, mmIcebergRenameTable, req)
}
