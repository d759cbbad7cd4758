package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/basin/pkg/types"
)

var (
	// Bucket names
	bucketGroups     = []byte("sync_rules")
	bucketTables     = []byte("source_tables")
	bucketData       = []byte("bucket_data")
	bucketParameters = []byte("bucket_parameters")
	bucketCurrent    = []byte("current_data")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database under dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "basin.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketGroups,
			bucketTables,
			bucketData,
			bucketParameters,
			bucketCurrent,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Group operations

func (s *BoltStore) GetGroup(id types.GroupID) (*types.Group, error) {
	var group types.Group
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGroups)
		data := b.Get(groupKey(id))
		if data == nil {
			return fmt.Errorf("group %d: %w", id, types.ErrNotFound)
		}
		return json.Unmarshal(data, &group)
	})
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (s *BoltStore) PutGroup(g *types.Group) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGroups)
		data, err := json.Marshal(g)
		if err != nil {
			return err
		}
		return b.Put(groupKey(g.ID), data)
	})
}

// UpdateGroup applies fn to the stored record inside one transaction and
// returns the updated copy.
func (s *BoltStore) UpdateGroup(id types.GroupID, fn func(*types.Group) error) (*types.Group, error) {
	var group types.Group
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGroups)
		data := b.Get(groupKey(id))
		if data == nil {
			return fmt.Errorf("group %d: %w", id, types.ErrNotFound)
		}
		if err := json.Unmarshal(data, &group); err != nil {
			return err
		}
		if err := fn(&group); err != nil {
			return err
		}
		updated, err := json.Marshal(&group)
		if err != nil {
			return err
		}
		return b.Put(groupKey(id), updated)
	})
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (s *BoltStore) ListGroups() ([]*types.Group, error) {
	var groups []*types.Group
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGroups)
		return b.ForEach(func(k, v []byte) error {
			var group types.Group
			if err := json.Unmarshal(v, &group); err != nil {
				return err
			}
			groups = append(groups, &group)
			return nil
		})
	})
	return groups, err
}

// Source-table registry

func replicaColumnsEqual(a, b []types.ReplicaColumn) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ResolveTable resolves an upstream relation to a stable internal identity.
// A full match on (group, connection, relation, schema, name, replica
// columns) returns the existing record; otherwise a new identity is created
// with snapshot_done=false. Any other identity in the same group and
// connection that matches the relation id or the qualified name is returned
// as a drop table: the caller truncates those before using the new identity.
func (s *BoltStore) ResolveTable(args ResolveArgs) (*types.SourceTable, []*types.SourceTable, error) {
	var resolved *types.SourceTable
	var dropTables []*types.SourceTable

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTables)

		err := b.ForEach(func(k, v []byte) error {
			var table types.SourceTable
			if err := json.Unmarshal(v, &table); err != nil {
				return err
			}
			if table.GroupID != args.GroupID || table.ConnectionID != args.ConnectionID {
				return nil
			}
			if resolved == nil &&
				table.RelationID == args.RelationID &&
				table.Schema == args.Schema &&
				table.Name == args.Name &&
				replicaColumnsEqual(table.ReplicaColumns, args.ReplicaColumns) {
				resolved = &table
				return nil
			}
			if table.RelationID == args.RelationID ||
				(table.Schema == args.Schema && table.Name == args.Name) {
				t := table
				dropTables = append(dropTables, &t)
			}
			return nil
		})
		if err != nil {
			return err
		}

		if resolved == nil {
			done := false
			resolved = &types.SourceTable{
				ID:             uuid.New().String(),
				GroupID:        args.GroupID,
				ConnectionID:   args.ConnectionID,
				ConnectionTag:  args.ConnectionTag,
				RelationID:     args.RelationID,
				Schema:         args.Schema,
				Name:           args.Name,
				ReplicaColumns: args.ReplicaColumns,
				SnapshotDone:   &done,
			}
			data, err := json.Marshal(resolved)
			if err != nil {
				return err
			}
			return b.Put([]byte(resolved.ID), data)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return resolved, dropTables, nil
}

func (s *BoltStore) GetTable(id string) (*types.SourceTable, error) {
	var table types.SourceTable
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTables)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("source table %s: %w", id, types.ErrNotFound)
		}
		return json.Unmarshal(data, &table)
	})
	if err != nil {
		return nil, err
	}
	return &table, nil
}

func (s *BoltStore) MarkSnapshotDone(ids []string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTables)
		for _, id := range ids {
			data := b.Get([]byte(id))
			if data == nil {
				return fmt.Errorf("source table %s: %w", id, types.ErrNotFound)
			}
			var table types.SourceTable
			if err := json.Unmarshal(data, &table); err != nil {
				return err
			}
			done := true
			table.SnapshotDone = &done
			updated, err := json.Marshal(&table)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(id), updated); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) DeleteTables(ids []string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTables)
		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Current data

func (s *BoltStore) GetCurrentData(id types.GroupID, key types.SourceKey) (*types.CurrentDataRow, error) {
	var row types.CurrentDataRow
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCurrent)
		data := b.Get(currentKey(id, key))
		if data == nil {
			return types.ErrNotFound
		}
		return json.Unmarshal(data, &row)
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *BoltStore) ForEachCurrentData(id types.GroupID, tableID string, fn func(types.SourceKey, types.CurrentDataRow) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketCurrent).Cursor()
		prefix := currentPrefix(id, tableID)
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var row types.CurrentDataRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if err := fn(sourceKeyFromCurrent(k), row); err != nil {
				return err
			}
		}
		return nil
	})
}
