package storage

import (
	"encoding/json"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/basin/pkg/types"
)

// ReadBucketOps returns up to limit ops of one bucket with op ids in
// (after, until], in ascending order. limit <= 0 means no limit.
func (s *BoltStore) ReadBucketOps(id types.GroupID, bucket string, after, until types.OpID, limit int) ([]types.BucketOp, error) {
	var result []types.BucketOp
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketData).Cursor()
		prefix := opPrefix(id, bucket)
		start := opKey(id, bucket, after+1)
		for k, v := c.Seek(start); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			if opIDFromKey(k) > until {
				break
			}
			var op types.BucketOp
			if err := json.Unmarshal(v, &op); err != nil {
				return err
			}
			result = append(result, op)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
		return nil
	})
	return result, err
}

// AggregateChecksum folds one op-id range of a bucket: count, wrapping
// 32-bit checksum sum, and CLEAR presence.
func (s *BoltStore) AggregateChecksum(id types.GroupID, bucket string, after, until types.OpID) (ChecksumAggregate, error) {
	var agg ChecksumAggregate
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketData).Cursor()
		prefix := opPrefix(id, bucket)
		start := opKey(id, bucket, after+1)
		for k, v := c.Seek(start); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			if opIDFromKey(k) > until {
				break
			}
			var op types.BucketOp
			if err := json.Unmarshal(v, &op); err != nil {
				return err
			}
			agg.Count++
			agg.Checksum += op.Checksum
			if op.Kind == types.OpClear {
				agg.HasClear = true
			}
		}
		return nil
	})
	return agg, err
}

// LatestParameterRow returns the parameter entry with the greatest op id at
// or before until for the lookup, or ErrNotFound when the lookup has never
// been written.
func (s *BoltStore) LatestParameterRow(id types.GroupID, lookup []byte, until types.OpID) (*types.ParameterRow, error) {
	var row types.ParameterRow
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketParameters).Cursor()
		prefix := paramPrefix(id, lookup)
		target := paramKey(id, lookup, until)

		k, v := c.Seek(target)
		if k == nil || !hasPrefix(k, prefix) || opIDFromKey(k) > until {
			k, v = c.Prev()
		}
		if k == nil || !hasPrefix(k, prefix) {
			return types.ErrNotFound
		}
		return json.Unmarshal(v, &row)
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListBuckets returns the distinct bucket names of a group using a skip
// scan: after reading one bucket's first key, the cursor seeks past that
// bucket's whole op range.
func (s *BoltStore) ListBuckets(id types.GroupID) ([]string, error) {
	var buckets []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketData).Cursor()
		group := groupKey(id)
		k, _ := c.Seek(group)
		for k != nil && hasPrefix(k, group) {
			name := bucketNameFromKey(k)
			buckets = append(buckets, name)
			// Jump past the last possible op id of this bucket.
			k, _ = c.Seek(opKey(id, name, ^types.OpID(0)))
			if k != nil && hasPrefix(k, opPrefix(id, name)) {
				k, _ = c.Next()
			}
		}
		return nil
	})
	// Keys group by (length, name); present the names in plain sorted order.
	sort.Strings(buckets)
	return buckets, err
}

// ForEachBucketOpReverse visits ops of a bucket with op id <= from in
// descending order until fn returns false.
func (s *BoltStore) ForEachBucketOpReverse(id types.GroupID, bucket string, from types.OpID, fn func(types.BucketOp) (bool, error)) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketData).Cursor()
		prefix := opPrefix(id, bucket)
		target := opKey(id, bucket, from)

		k, v := c.Seek(target)
		if k == nil || !hasPrefix(k, prefix) || opIDFromKey(k) > from {
			k, v = c.Prev()
		}
		for ; k != nil && hasPrefix(k, prefix); k, v = c.Prev() {
			var op types.BucketOp
			if err := json.Unmarshal(v, &op); err != nil {
				return err
			}
			cont, err := fn(op)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		return nil
	})
}

// RewriteOps replaces existing ops in place (same key, new value) in one
// transaction. Used by the compactor for MOVE rewrites.
func (s *BoltStore) RewriteOps(id types.GroupID, ops []types.BucketOp) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketData)
		for i := range ops {
			op := &ops[i]
			value, err := json.Marshal(op)
			if err != nil {
				return err
			}
			if err := b.Put(opKey(id, op.Bucket, op.OpID), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// ApplyClear atomically replaces all ops of a bucket with op id <= upTo by a
// single CLEAR op at upTo whose checksum is the modular sum of the collapsed
// ops.
func (s *BoltStore) ApplyClear(id types.GroupID, bucket string, upTo types.OpID, checksum uint32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketData)
		c := b.Cursor()
		prefix := opPrefix(id, bucket)
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			if opIDFromKey(k) > upTo {
				break
			}
			if err := c.Delete(); err != nil {
				return err
			}
		}
		clear := types.BucketOp{
			OpID:     upTo,
			Bucket:   bucket,
			Kind:     types.OpClear,
			Checksum: checksum,
			TargetOp: upTo,
		}
		value, err := json.Marshal(&clear)
		if err != nil {
			return err
		}
		return b.Put(opKey(id, bucket, upTo), value)
	})
}

// bucketNameFromKey extracts the bucket name of a bucket_data key.
func bucketNameFromKey(k []byte) string {
	l := int(k[4])<<8 | int(k[5])
	return string(k[6 : 6+l])
}
