package meta

import (
	"testing"

	"github.com/cloudomate/objectio/pkg/common"
	"github.com/cloudomate/objectio/pkg/placement"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBucketCRUD(t *testing.T) {
	s := openTestStore(t)

	if err := s.CreateBucket(Bucket{Name: "photos", Owner: "alice"}); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	if err := s.CreateBucket(Bucket{Name: "photos", Owner: "alice"}); common.KindOf(err) != common.KindAlreadyExists {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}

	got, err := s.GetBucket("photos")
	if err != nil {
		t.Fatalf("GetBucket: %v", err)
	}
	if got.Owner != "alice" {
		t.Fatalf("owner = %q, want alice", got.Owner)
	}

	if _, err := s.GetBucket("missing"); common.KindOf(err) != common.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}

	list, err := s.ListBuckets()
	if err != nil || len(list) != 1 {
		t.Fatalf("ListBuckets = %v, %v", list, err)
	}

	if err := s.DeleteBucket("photos"); err != nil {
		t.Fatalf("DeleteBucket: %v", err)
	}
	if err := s.DeleteBucket("photos"); common.KindOf(err) != common.KindNotFound {
		t.Fatalf("expected NotFound on second delete, got %v", err)
	}
}

func TestBucketPolicyRequiresExistingBucket(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetBucketPolicy(BucketPolicy{Bucket: "ghost", Document: "{}"}); common.KindOf(err) != common.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}

	if err := s.CreateBucket(Bucket{Name: "docs"}); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	if err := s.SetBucketPolicy(BucketPolicy{Bucket: "docs", Document: `{"Effect":"Allow"}`}); err != nil {
		t.Fatalf("SetBucketPolicy: %v", err)
	}

	p, err := s.GetBucketPolicy("docs")
	if err != nil || p.Document != `{"Effect":"Allow"}` {
		t.Fatalf("GetBucketPolicy = %+v, %v", p, err)
	}

	if err := s.DeleteBucketPolicy("docs"); err != nil {
		t.Fatalf("DeleteBucketPolicy: %v", err)
	}
	if _, err := s.GetBucketPolicy("docs"); common.KindOf(err) != common.KindNotFound {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
}

func TestUserAndAccessKeyCRUD(t *testing.T) {
	s := openTestStore(t)

	u := User{Id: "u-1", Name: "bob", Active: true}
	if err := s.CreateUser(u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := s.CreateUser(u); common.KindOf(err) != common.KindAlreadyExists {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}

	key := AccessKey{AccessKeyId: "AKIDEXAMPLE", SecretAccessKey: "secret", UserId: "u-1", Active: true}
	if err := s.CreateAccessKey(key); err != nil {
		t.Fatalf("CreateAccessKey: %v", err)
	}

	got, err := s.GetAccessKey("AKIDEXAMPLE")
	if err != nil || got.UserId != "u-1" {
		t.Fatalf("GetAccessKey = %+v, %v", got, err)
	}

	if err := s.DeleteAccessKey("AKIDEXAMPLE"); err != nil {
		t.Fatalf("DeleteAccessKey: %v", err)
	}
	if _, err := s.GetAccessKey("AKIDEXAMPLE"); common.KindOf(err) != common.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}

	if err := s.DeleteUser("u-1"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := s.GetUser("u-1"); common.KindOf(err) != common.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestTopologyManagerRegisterAndPersist(t *testing.T) {
	store := openTestStore(t)

	mgr, err := NewTopologyManager(store)
	if err != nil {
		t.Fatalf("NewTopologyManager: %v", err)
	}

	nodeId := common.NewNodeId()
	diskId := common.NewDiskId()
	domain := placement.FailureDomainInfo{Region: "us-east", Datacenter: "dc1", Rack: "r1"}

	v1, err := mgr.RegisterOsd(nodeId, "10.0.0.1:7000", "osd-1", []common.DiskId{diskId}, domain, 1.0)
	if err != nil {
		t.Fatalf("RegisterOsd: %v", err)
	}
	if v1 == 0 {
		t.Fatalf("expected nonzero topology version")
	}

	node, ok := mgr.Topology().Node(nodeId)
	if !ok {
		t.Fatalf("node not found in topology after registration")
	}
	if node.Address != "10.0.0.1:7000" {
		t.Fatalf("address = %q, want 10.0.0.1:7000", node.Address)
	}

	// A second TopologyManager opened against the same store must rebuild
	// the same cluster view from persisted state.
	mgr2, err := NewTopologyManager(store)
	if err != nil {
		t.Fatalf("NewTopologyManager (reload): %v", err)
	}
	reloaded, ok := mgr2.Topology().Node(nodeId)
	if !ok {
		t.Fatalf("node not found after reload")
	}
	if reloaded.Name != "osd-1" || len(reloaded.DiskIds) != 1 || reloaded.DiskIds[0] != diskId {
		t.Fatalf("reloaded node mismatch: %+v", reloaded)
	}
}

func TestGetPlacementIsDeterministic(t *testing.T) {
	store := openTestStore(t)
	mgr, err := NewTopologyManager(store)
	if err != nil {
		t.Fatalf("NewTopologyManager: %v", err)
	}

	for i := 0; i < 6; i++ {
		domain := placement.FailureDomainInfo{Region: "us-east", Datacenter: "dc1", Rack: rackLabel(i)}
		if _, err := mgr.RegisterOsd(common.NewNodeId(), addrLabel(i), nameLabel(i), []common.DiskId{common.NewDiskId()}, domain, 1.0); err != nil {
			t.Fatalf("RegisterOsd %d: %v", i, err)
		}
	}

	objectId := common.NewObjectId()
	template := placement.MDS42()

	r1 := mgr.GetPlacement(objectId, "standard", template)
	r2 := mgr.GetPlacement(objectId, "standard", template)

	if len(r1.Nodes) != len(r2.Nodes) {
		t.Fatalf("placement length differs across calls: %d vs %d", len(r1.Nodes), len(r2.Nodes))
	}
	for i := range r1.Nodes {
		if r1.Nodes[i].NodeId != r2.Nodes[i].NodeId {
			t.Fatalf("placement %d differs across calls: %+v vs %+v", i, r1.Nodes[i], r2.Nodes[i])
		}
	}
	if r1.EcK != 4 || r1.EcM != 2 {
		t.Fatalf("EcK/EcM = %d/%d, want 4/2", r1.EcK, r1.EcM)
	}
}

func rackLabel(i int) string { return "rack-" + string(rune('a'+i)) }
func addrLabel(i int) string { return "10.0.0." + string(rune('1'+i)) + ":7000" }
func nameLabel(i int) string { return "osd-" + string(rune('1'+i)) }

func TestMultipartUploadLifecycle(t *testing.T) {
	s := openTestStore(t)

	uploadId, err := s.CreateMultipartUpload("bucket-a", "big-object", "standard")
	if err != nil {
		t.Fatalf("CreateMultipartUpload: %v", err)
	}

	// etags chosen so the concatenated digest input is easy to reason about;
	// any valid hex works since CompleteMultipartUpload only decodes and
	// rehashes.
	part1 := PartInfo{PartNumber: 1, ETag: "5eb63bbbe01eeed093cb22bb8f5acdc3", Size: 1024}
	part2 := PartInfo{PartNumber: 2, ETag: "7d865e959b2466918c9863afca942d0f", Size: 2048}

	if err := s.RegisterPart(uploadId, part1); err != nil {
		t.Fatalf("RegisterPart 1: %v", err)
	}
	if err := s.RegisterPart(uploadId, part2); err != nil {
		t.Fatalf("RegisterPart 2: %v", err)
	}

	// re-registering part 2 with new content replaces it atomically
	part2b := PartInfo{PartNumber: 2, ETag: "098f6bcd4621d373cade4e832627b4f6", Size: 4096}
	if err := s.RegisterPart(uploadId, part2b); err != nil {
		t.Fatalf("RegisterPart 2b: %v", err)
	}

	if err := s.RegisterPart(uploadId, PartInfo{PartNumber: 10001, ETag: "ab"}); common.KindOf(err) != common.KindInvalidArgument {
		t.Fatalf("expected InvalidArgument for out-of-range part number, got %v", err)
	}

	result, err := s.CompleteMultipartUpload(uploadId, []ExpectedPart{
		{PartNumber: 1, ETag: part1.ETag},
		{PartNumber: 2, ETag: part2b.ETag},
	})
	if err != nil {
		t.Fatalf("CompleteMultipartUpload: %v", err)
	}

	wantSuffix := "-2"
	if len(result.ETag) < len(wantSuffix) || result.ETag[len(result.ETag)-len(wantSuffix):] != wantSuffix {
		t.Fatalf("ETag %q missing part-count suffix %q", result.ETag, wantSuffix)
	}
	if result.Size != part1.Size+part2b.Size {
		t.Fatalf("Size = %d, want %d", result.Size, part1.Size+part2b.Size)
	}

	if _, err := s.GetMultipartUpload(uploadId); common.KindOf(err) != common.KindNotFound {
		t.Fatalf("expected upload state removed after completion, got %v", err)
	}
}

func TestCompleteMultipartUploadRejectsEtagMismatch(t *testing.T) {
	s := openTestStore(t)

	uploadId, err := s.CreateMultipartUpload("bucket-a", "obj", "standard")
	if err != nil {
		t.Fatalf("CreateMultipartUpload: %v", err)
	}
	if err := s.RegisterPart(uploadId, PartInfo{PartNumber: 1, ETag: "abcd", Size: 10}); err != nil {
		t.Fatalf("RegisterPart: %v", err)
	}

	_, err = s.CompleteMultipartUpload(uploadId, []ExpectedPart{{PartNumber: 1, ETag: "ffff"}})
	if common.KindOf(err) != common.KindInvalidArgument {
		t.Fatalf("expected InvalidArgument on etag mismatch, got %v", err)
	}
}

func TestAbortMultipartUpload(t *testing.T) {
	s := openTestStore(t)

	uploadId, err := s.CreateMultipartUpload("bucket-a", "obj", "standard")
	if err != nil {
		t.Fatalf("CreateMultipartUpload: %v", err)
	}
	if err := s.AbortMultipartUpload(uploadId); err != nil {
		t.Fatalf("AbortMultipartUpload: %v", err)
	}
	if err := s.AbortMultipartUpload(uploadId); common.KindOf(err) != common.KindNotFound {
		t.Fatalf("expected NotFound on second abort, got %v", err)
	}
}

func TestIcebergNamespaceAndTableLifecycle(t *testing.T) {
	s := openTestStore(t)

	if err := s.IcebergCreateNamespace("warehouse", map[string]string{"owner": "data-eng"}); err != nil {
		t.Fatalf("IcebergCreateNamespace: %v", err)
	}
	if err := s.IcebergCreateNamespace("warehouse", nil); common.KindOf(err) != common.KindAlreadyExists {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}

	if err := s.IcebergCreateTable("warehouse", "events", "s3://m/v1.json"); err != nil {
		t.Fatalf("IcebergCreateTable: %v", err)
	}

	tbl, err := s.IcebergLoadTable("warehouse", "events")
	if err != nil || tbl.MetadataLocation != "s3://m/v1.json" {
		t.Fatalf("IcebergLoadTable = %+v, %v", tbl, err)
	}

	// first commit against the correct current location succeeds
	updated, err := s.IcebergCommitTable("warehouse", "events", "s3://m/v1.json", "s3://m/v2.json")
	if err != nil {
		t.Fatalf("IcebergCommitTable: %v", err)
	}
	if updated.MetadataLocation != "s3://m/v2.json" {
		t.Fatalf("MetadataLocation = %q, want s3://m/v2.json", updated.MetadataLocation)
	}

	// a second commit against the now-stale v1 location is rejected
	if _, err := s.IcebergCommitTable("warehouse", "events", "s3://m/v1.json", "s3://m/v3.json"); common.KindOf(err) != common.KindFailedPrecondition {
		t.Fatalf("expected FailedPrecondition on stale commit, got %v", err)
	}

	// namespace with a table can't be dropped
	if err := s.IcebergDropNamespace("warehouse"); common.KindOf(err) != common.KindFailedPrecondition {
		t.Fatalf("expected FailedPrecondition dropping non-empty namespace, got %v", err)
	}

	if err := s.IcebergCreateNamespace("archive", nil); err != nil {
		t.Fatalf("IcebergCreateNamespace archive: %v", err)
	}
	if err := s.IcebergRenameTable("warehouse", "events", "archive", "events_v2"); err != nil {
		t.Fatalf("IcebergRenameTable: %v", err)
	}
	if _, err := s.IcebergLoadTable("warehouse", "events"); common.KindOf(err) != common.KindNotFound {
		t.Fatalf("expected source table gone after rename, got %v", err)
	}
	moved, err := s.IcebergLoadTable("archive", "events_v2")
	if err != nil || moved.MetadataLocation != "s3://m/v2.json" {
		t.Fatalf("IcebergLoadTable after rename = %+v, %v", moved, err)
	}

	if err := s.IcebergDropTable("archive", "events_v2"); err != nil {
		t.Fatalf("IcebergDropTable: %v", err)
	}
	if err := s.IcebergDropNamespace("warehouse"); err != nil {
		t.Fatalf("IcebergDropNamespace (now empty): %v", err)
	}
}

func TestIcebergRenameRequiresDestinationNamespace(t *testing.T) {
	s := openTestStore(t)

	if err := s.IcebergCreateNamespace("ns1", nil); err != nil {
		t.Fatalf("IcebergCreateNamespace: %v", err)
	}
	if err := s.IcebergCreateTable("ns1", "t1", "s3://m/v1.json"); err != nil {
		t.Fatalf("IcebergCreateTable: %v", err)
	}

	if err := s.IcebergRenameTable("ns1", "t1", "ns-missing", "t1"); common.KindOf(err) != common.KindNotFound {
		t.Fatalf("expected NotFound for missing destination namespace, got %v", err)
	}
}
