package storage

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/basin/pkg/types"
)

// ApplyFlush persists one batch in a single transaction: bucket ops,
// parameter rows, current-data mutations, dropped tables, and the advanced
// checkpoint record. Op ids are assigned here from the group counter, in
// slice order, so a retried flush of the same buffered batch produces the
// same id range. Returns the new last checkpoint.
func (s *BoltStore) ApplyFlush(id types.GroupID, f *Flush) (types.OpID, error) {
	var last types.OpID
	err := s.db.Update(func(tx *bolt.Tx) error {
		gb := tx.Bucket(bucketGroups)
		data := gb.Get(groupKey(id))
		if data == nil {
			return fmt.Errorf("group %d: %w", id, types.ErrNotFound)
		}
		var group types.Group
		if err := json.Unmarshal(data, &group); err != nil {
			return err
		}
		if group.Status == types.GroupTerminated {
			return fmt.Errorf("group %d: %w", id, types.ErrTerminated)
		}
		if f.CommitLSN != "" && group.LastCheckpointLSN != "" && f.CommitLSN < group.LastCheckpointLSN {
			return fmt.Errorf("group %d: commit lsn %q behind checkpoint lsn %q: %w",
				id, f.CommitLSN, group.LastCheckpointLSN, types.ErrIntegrity)
		}

		next := group.LastCheckpoint

		ops := tx.Bucket(bucketData)
		for i := range f.Ops {
			w := &f.Ops[i]
			next++
			op := types.BucketOp{
				OpID:      next,
				Bucket:    w.Bucket,
				Kind:      w.Kind,
				SourceKey: w.SourceKey,
				Subkey:    w.Subkey,
				Table:     w.Table,
				RowID:     w.RowID,
				Data:      w.Data,
				Checksum:  w.Checksum,
				TargetOp:  w.TargetOp,
			}
			value, err := json.Marshal(&op)
			if err != nil {
				return err
			}
			if err := ops.Put(opKey(id, w.Bucket, next), value); err != nil {
				return err
			}
		}

		params := tx.Bucket(bucketParameters)
		for i := range f.Parameters {
			w := &f.Parameters[i]
			next++
			row := types.ParameterRow{SourceKey: w.SourceKey, Rows: w.Rows}
			value, err := json.Marshal(&row)
			if err != nil {
				return err
			}
			if err := params.Put(paramKey(id, w.Lookup, next), value); err != nil {
				return err
			}
		}

		current := tx.Bucket(bucketCurrent)
		for i := range f.CurrentPuts {
			w := &f.CurrentPuts[i]
			value, err := json.Marshal(&w.Row)
			if err != nil {
				return err
			}
			if err := current.Put(currentKey(id, w.Key), value); err != nil {
				return err
			}
		}
		for _, key := range f.CurrentDeletes {
			if err := current.Delete(currentKey(id, key)); err != nil {
				return err
			}
		}

		if len(f.DropTableIDs) > 0 {
			tables := tx.Bucket(bucketTables)
			for _, tid := range f.DropTableIDs {
				if err := tables.Delete([]byte(tid)); err != nil {
					return err
				}
			}
		}

		group.LastCheckpoint = next
		if f.CommitLSN != "" {
			group.LastCheckpointLSN = f.CommitLSN
		}
		updated, err := json.Marshal(&group)
		if err != nil {
			return err
		}
		if err := gb.Put(groupKey(id), updated); err != nil {
			return err
		}
		last = next
		return nil
	})
	if err != nil {
		return 0, err
	}
	return last, nil
}
