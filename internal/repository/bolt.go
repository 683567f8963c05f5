package repository

import (
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"
)

// bboltのバケット名
var (
	bucketUsers            = []byte("users")
	bucketUsernames        = []byte("usernames")
	bucketAssignments      = []byte("assignments")
	bucketOwnerAssignments = []byte("owner_assignments")
)

// InitBoltBuckets はリポジトリが使用するバケットを作成する。既存のバケットはそのまま残す。
func InitBoltBuckets(db *bbolt.DB) error {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketUsernames, bucketAssignments, bucketOwnerAssignments} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return storageErr("create bolt buckets", err)
	}
	return nil
}

// positionKey はPositionをキー順と作成順が一致するビッグエンディアンのキーに変換する。
func positionKey(pos int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(pos))
	return b
}
