package storage

import (
	"encoding/json"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/basin/pkg/types"
)

// ClearGroupChunk deletes up to limit persisted entries belonging to the
// group across bucket data, parameters, current data, and source tables.
// Returns the number of entries deleted; zero means the group's storage is
// fully cleared. Callers loop until zero, retrying failed chunks, which
// makes the overall clear idempotent and incremental.
func (s *BoltStore) ClearGroupChunk(id types.GroupID, limit int) (int, error) {
	deleted := 0
	group := groupKey(id)

	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketData, bucketParameters, bucketCurrent} {
			c := tx.Bucket(name).Cursor()
			for k, _ := c.Seek(group); k != nil && hasPrefix(k, group); k, _ = c.Next() {
				if deleted >= limit {
					return nil
				}
				if err := c.Delete(); err != nil {
					return err
				}
				deleted++
			}
		}

		// Source tables are keyed by id; filter by group.
		c := tx.Bucket(bucketTables).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if deleted >= limit {
				return nil
			}
			var table types.SourceTable
			if err := json.Unmarshal(v, &table); err != nil {
				return err
			}
			if table.GroupID != id {
				continue
			}
			if err := c.Delete(); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
