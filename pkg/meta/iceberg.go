package meta

import (
	"encoding/json"

	bolt "go.etcd.io/bbolt"

	"github.com/cloudomate/objectio/pkg/common"
)

// IcebergCreateNamespace creates a new namespace entry, failing if one
// already exists at the same path.
func (s *Store) IcebergCreateNamespace(path string, properties map[string]string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketIcebergNs).Get([]byte(path)) != nil {
			return common.AlreadyExistsf("iceberg namespace %q already exists", path)
		}
		return putJSON(tx, bucketIcebergNs, []byte(path), IcebergNamespace{Path: path, Properties: properties})
	})
}

func (s *Store) IcebergLoadNamespace(path string) (IcebergNamespace, error) {
	var ns IcebergNamespace
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := getJSON(tx, bucketIcebergNs, []byte(path), &ns)
		if err != nil {
			return err
		}
		if !found {
			return common.NotFoundf("iceberg namespace %q not found", path)
		}
		return nil
	})
	return ns, err
}

func (s *Store) IcebergNamespaceExists(path string) (bool, error) {
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketIcebergNs).Get([]byte(path)) != nil
		return nil
	})
	return exists, err
}

// IcebergDropNamespace removes a namespace, refusing if it still has
// tables (namespace-not-empty precondition failure).
func (s *Store) IcebergDropNamespace(path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketIcebergNs).Get([]byte(path)) == nil {
			return common.NotFoundf("iceberg namespace %q not found", path)
		}

		cursor := tx.Bucket(bucketIcebergTbl).Cursor()
		prefix := []byte(path + "\x00")
		for k, _ := cursor.Seek(prefix); k != nil && hasIcebergPrefix(k, prefix); k, _ = cursor.Next() {
			return common.FailedPreconditionf("iceberg namespace %q is not empty", path)
		}

		return tx.Bucket(bucketIcebergNs).Delete([]byte(path))
	})
}

func hasIcebergPrefix(key, prefix []byte) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i, b := range prefix {
		if key[i] != b {
			return false
		}
	}
	return true
}

func (s *Store) IcebergListNamespaces() ([]IcebergNamespace, error) {
	var out []IcebergNamespace
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIcebergNs).ForEach(func(k, v []byte) error {
			var ns IcebergNamespace
			if err := json.Unmarshal(v, &ns); err != nil {
				return err
			}
			out = append(out, ns)
			return nil
		})
	})
	return out, err
}

func (s *Store) IcebergUpdateNamespaceProperties(path string, updates map[string]string, removals []string) (IcebergNamespace, error) {
	var ns IcebergNamespace
	err := s.db.Update(func(tx *bolt.Tx) error {
		found, err := getJSON(tx, bucketIcebergNs, []byte(path), &ns)
		if err != nil {
			return err
		}
		if !found {
			return common.NotFoundf("iceberg namespace %q not found", path)
		}
		if ns.Properties == nil {
			ns.Properties = make(map[string]string)
		}
		for k, v := range updates {
			ns.Properties[k] = v
		}
		for _, k := range removals {
			delete(ns.Properties, k)
		}
		return putJSON(tx, bucketIcebergNs, []byte(path), ns)
	})
	return ns, err
}

// --- Tables ---

func (s *Store) IcebergCreateTable(namespace, name, metadataLocation string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketIcebergNs).Get([]byte(namespace)) == nil {
			return common.NotFoundf("iceberg namespace %q not found", namespace)
		}
		key := []byte(icebergTableKey(namespace, name))
		if tx.Bucket(bucketIcebergTbl).Get(key) != nil {
			return common.AlreadyExistsf("iceberg table %q already exists", key)
		}
		return putJSON(tx, bucketIcebergTbl, key, IcebergTable{Namespace: namespace, Name: name, MetadataLocation: metadataLocation})
	})
}

func (s *Store) IcebergLoadTable(namespace, name string) (IcebergTable, error) {
	var t IcebergTable
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := getJSON(tx, bucketIcebergTbl, []byte(icebergTableKey(namespace, name)), &t)
		if err != nil {
			return err
		}
		if !found {
			return common.NotFoundf("iceberg table %q.%q not found", namespace, name)
		}
		return nil
	})
	return t, err
}

func (s *Store) IcebergTableExists(namespace, name string) (bool, error) {
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketIcebergTbl).Get([]byte(icebergTableKey(namespace, name))) != nil
		return nil
	})
	return exists, err
}

// IcebergCommitTable performs the catalog's compare-and-swap: the stored
// metadata_location must equal current at the instant of the swap, or the
// commit is rejected as a concurrent update.
func (s *Store) IcebergCommitTable(namespace, name, current, next string) (IcebergTable, error) {
	var t IcebergTable
	err := s.db.Update(func(tx *bolt.Tx) error {
		key := []byte(icebergTableKey(namespace, name))
		found, err := getJSON(tx, bucketIcebergTbl, key, &t)
		if err != nil {
			return err
		}
		if !found {
			return common.NotFoundf("iceberg table %q.%q not found", namespace, name)
		}
		if t.MetadataLocation != current {
			return common.FailedPreconditionf("concurrent metadata update detected")
		}
		t.MetadataLocation = next
		return putJSON(tx, bucketIcebergTbl, key, t)
	})
	return t, err
}

func (s *Store) IcebergDropTable(namespace, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := []byte(icebergTableKey(namespace, name))
		if tx.Bucket(bucketIcebergTbl).Get(key) == nil {
			return common.NotFoundf("iceberg table %q.%q not found", namespace, name)
		}
		return tx.Bucket(bucketIcebergTbl).Delete(key)
	})
}

// IcebergRenameTable moves a table to a new namespace/name, requiring the
// destination namespace to exist and rolling back if the destination key
// is already occupied.
func (s *Store) IcebergRenameTable(srcNamespace, srcName, dstNamespace, dstName string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketIcebergNs).Get([]byte(dstNamespace)) == nil {
			return common.NotFoundf("destination iceberg namespace %q not found", dstNamespace)
		}

		srcKey := []byte(icebergTableKey(srcNamespace, srcName))
		var t IcebergTable
		found, err := getJSON(tx, bucketIcebergTbl, srcKey, &t)
		if err != nil {
			return err
		}
		if !found {
			return common.NotFoundf("iceberg table %q.%q not found", srcNamespace, srcName)
		}

		dstKey := []byte(icebergTableKey(dstNamespace, dstName))
		if tx.Bucket(bucketIcebergTbl).Get(dstKey) != nil {
			return common.AlreadyExistsf("iceberg table %q.%q already exists", dstNamespace, dstName)
		}

		if err := tx.Bucket(bucketIcebergTbl).Delete(srcKey); err != nil {
			return err
		}
		t.Namespace = dstNamespace
		t.Name = dstName
		return putJSON(tx, bucketIcebergTbl, dstKey, t)
	})
}

func (s *Store) IcebergListTables(namespace string) ([]IcebergTable, error) {
	var out []IcebergTable
	prefix := []byte(namespace + "\x00")
	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketIcebergTbl).Cursor()
		for k, v := cursor.Seek(prefix); k != nil && hasIcebergPrefix(k, prefix); k, v = cursor.Next() {
			var t IcebergTable
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			out = append(out, t)
		}
		return nil
	})
	return out, err
}
