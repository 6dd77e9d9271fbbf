package meta

import (
	"encoding/json"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cloudomate/objectio/pkg/common"
	"github.com/cloudomate/objectio/pkg/log"
)

var (
	bucketBuckets    = []byte("b")
	bucketPolicies   = []byte("bp")
	bucketUsers      = []byte("u")
	bucketAccessKeys = []byte("k")
	bucketOsds       = []byte("o")
	bucketTopology   = []byte("t")
	bucketMultipart  = []byte("mu")
	bucketIcebergNs  = []byte("in")
	bucketIcebergTbl = []byte("it")

	topologyKey = []byte("topology")
)

var allBuckets = [][]byte{
	bucketBuckets, bucketPolicies, bucketUsers, bucketAccessKeys,
	bucketOsds, bucketTopology, bucketMultipart, bucketIcebergNs, bucketIcebergTbl,
}

// Store is the metadata service's persistent state: every bucket below is a
// tagged-prefix bbolt bucket, following the same convention pkg/storage's
// BTreeIndex uses for on-OSD state.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (or creates) the metadata service's database at
// <dataDir>/meta.db.
func OpenStore(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "meta.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, common.Wrap(common.KindInternal, err, "open metadata store at %s", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, common.Wrap(common.KindInternal, err, "create metadata buckets")
	}

	log.WithComponent("meta").Info().Str("path", path).Msg("opened metadata service store")
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func putJSON(tx *bolt.Tx, bucket, key []byte, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return common.Wrap(common.KindInternal, err, "marshal %s", key)
	}
	return tx.Bucket(bucket).Put(key, data)
}

func getJSON(tx *bolt.Tx, bucket, key []byte, out any) (bool, error) {
	data := tx.Bucket(bucket).Get(key)
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, common.Wrap(common.KindInternal, err, "unmarshal %s", key)
	}
	return true, nil
}

// --- Buckets ---

func (s *Store) CreateBucket(b Bucket) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var existing Bucket
		found, err := getJSON(tx, bucketBuckets, []byte(b.Name), &existing)
		if err != nil {
			return err
		}
		if found {
			return common.AlreadyExistsf("bucket %q already exists", b.Name)
		}
		return putJSON(tx, bucketBuckets, []byte(b.Name), b)
	})
}

func (s *Store) GetBucket(name string) (Bucket, error) {
	var b Bucket
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := getJSON(tx, bucketBuckets, []byte(name), &b)
		if err != nil {
			return err
		}
		if !found {
			return common.NotFoundf("bucket %q not found", name)
		}
		return nil
	})
	return b, err
}

func (s *Store) DeleteBucket(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketBuckets).Get([]byte(name)) == nil {
			return common.NotFoundf("bucket %q not found", name)
		}
		if err := tx.Bucket(bucketBuckets).Delete([]byte(name)); err != nil {
			return err
		}
		return tx.Bucket(bucketPolicies).Delete([]byte(name))
	})
}

func (s *Store) ListBuckets() ([]Bucket, error) {
	var out []Bucket
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBuckets).ForEach(func(k, v []byte) error {
			var b Bucket
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			out = append(out, b)
			return nil
		})
	})
	return out, err
}

// --- Bucket policies ---

func (s *Store) SetBucketPolicy(p BucketPolicy) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketBuckets).Get([]byte(p.Bucket)) == nil {
			return common.NotFoundf("bucket %q not found", p.Bucket)
		}
		return putJSON(tx, bucketPolicies, []byte(p.Bucket), p)
	})
}

func (s *Store) GetBucketPolicy(bucket string) (BucketPolicy, error) {
	var p BucketPolicy
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := getJSON(tx, bucketPolicies, []byte(bucket), &p)
		if err != nil {
			return err
		}
		if !found {
			return common.NotFoundf("no policy set for bucket %q", bucket)
		}
		return nil
	})
	return p, err
}

func (s *Store) DeleteBucketPolicy(bucket string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPolicies).Delete([]byte(bucket))
	})
}

// --- Users ---

func (s *Store) CreateUser(u User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketUsers).Get([]byte(u.Id)) != nil {
			return common.AlreadyExistsf("user %q already exists", u.Id)
		}
		return putJSON(tx, bucketUsers, []byte(u.Id), u)
	})
}

func (s *Store) GetUser(id string) (User, error) {
	var u User
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := getJSON(tx, bucketUsers, []byte(id), &u)
		if err != nil {
			return err
		}
		if !found {
			return common.NotFoundf("user %q not found", id)
		}
		return nil
	})
	return u, err
}

func (s *Store) DeleteUser(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).Delete([]byte(id))
	})
}

// --- Access keys ---

func (s *Store) CreateAccessKey(k AccessKey) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketAccessKeys).Get([]byte(k.AccessKeyId)) != nil {
			return common.AlreadyExistsf("access key %q already exists", k.AccessKeyId)
		}
		return putJSON(tx, bucketAccessKeys, []byte(k.AccessKeyId), k)
	})
}

func (s *Store) GetAccessKey(accessKeyId string) (AccessKey, error) {
	var k AccessKey
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := getJSON(tx, bucketAccessKeys, []byte(accessKeyId), &k)
		if err != nil {
			return err
		}
		if !found {
			return common.NotFoundf("access key %q not found", accessKeyId)
		}
		return nil
	})
	return k, err
}

func (s *Store) DeleteAccessKey(accessKeyId string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAccessKeys).Delete([]byte(accessKeyId))
	})
}
