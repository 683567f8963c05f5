package repository

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/hitoshi/assignman/internal/model"
)

// boltAssignment はassignmentsバケットに保存するJSONレコード。
type boltAssignment struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	DueDate   time.Time `json:"due_date"`
	Position  int64     `json:"position"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newBoltAssignment(a *model.Assignment) boltAssignment {
	return boltAssignment{
		ID:        a.ID,
		OwnerID:   a.OwnerID,
		Name:      a.Name,
		DueDate:   a.DueDate,
		Position:  a.Position,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func (b boltAssignment) toModel() *model.Assignment {
	return &model.Assignment{
		ID:        b.ID,
		OwnerID:   b.OwnerID,
		Name:      b.Name,
		DueDate:   b.DueDate.UTC(),
		Position:  b.Position,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
}

// BoltAssignmentRepo はbboltを使用した課題リポジトリ。
//
// assignmentsバケットは課題ID→レコード、owner_assignmentsバケットは
// 所有者ごとのネストバケットにPosition→課題IDを保持する。
// Positionはassignmentsバケットのシーケンスで採番する。
type BoltAssignmentRepo struct {
	db *bbolt.DB
}

// NewBoltAssignmentRepo はBoltAssignmentRepoを生成する。
func NewBoltAssignmentRepo(db *bbolt.DB) *BoltAssignmentRepo {
	return &BoltAssignmentRepo{db: db}
}

// Create は課題を作成し、Positionを採番する。
func (r *BoltAssignmentRepo) Create(_ context.Context, a *model.Assignment) error {
	err := r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAssignments)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		a.Position = int64(seq)

		data, err := json.Marshal(newBoltAssignment(a))
		if err != nil {
			return err
		}
		if err := b.Put([]byte(a.ID), data); err != nil {
			return err
		}

		owner, err := tx.Bucket(bucketOwnerAssignments).CreateBucketIfNotExists([]byte(a.OwnerID))
		if err != nil {
			return err
		}
		return owner.Put(positionKey(a.Position), []byte(a.ID))
	})
	if err != nil {
		return storageErr("insert assignment", err)
	}
	return nil
}

// FindByID は指定IDの課題を取得する。見つからない場合はnilを返す。
func (r *BoltAssignmentRepo) FindByID(_ context.Context, id string) (*model.Assignment, error) {
	var a *model.Assignment
	err := r.db.View(func(tx *bbolt.Tx) error {
		rec, err := getBoltAssignment(tx, []byte(id))
		if err != nil || rec == nil {
			return err
		}
		a = rec.toModel()
		return nil
	})
	if err != nil {
		return nil, storageErr("find assignment by ID", err)
	}
	return a, nil
}

// Update は書き込みトランザクション内で読み込み・更新・保存を行う。
func (r *BoltAssignmentRepo) Update(_ context.Context, id string, patch model.AssignmentPatch, now time.Time) (*model.Assignment, error) {
	var updated *model.Assignment
	err := r.db.Update(func(tx *bbolt.Tx) error {
		rec, err := getBoltAssignment(tx, []byte(id))
		if err != nil || rec == nil {
			return err
		}
		if patch.Name != nil {
			rec.Name = *patch.Name
		}
		if patch.DueDate != nil {
			rec.DueDate = *patch.DueDate
		}
		rec.UpdatedAt = now

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketAssignments).Put([]byte(id), data); err != nil {
			return err
		}
		updated = rec.toModel()
		return nil
	})
	if err != nil {
		return nil, storageErr("update assignment", err)
	}
	return updated, nil
}

// Delete は指定IDの課題と所有者インデックスを削除する。
func (r *BoltAssignmentRepo) Delete(_ context.Context, id string) error {
	found := false
	err := r.db.Update(func(tx *bbolt.Tx) error {
		rec, err := getBoltAssignment(tx, []byte(id))
		if err != nil || rec == nil {
			return err
		}
		found = true
		if owner := tx.Bucket(bucketOwnerAssignments).Bucket([]byte(rec.OwnerID)); owner != nil {
			if err := owner.Delete(positionKey(rec.Position)); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketAssignments).Delete([]byte(id))
	})
	if err != nil {
		return storageErr("delete assignment", err)
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// ListByOwner は所有者インデックスをキー順に走査し、作成順で返す。
func (r *BoltAssignmentRepo) ListByOwner(_ context.Context, ownerID string) ([]*model.Assignment, error) {
	out := make([]*model.Assignment, 0)
	err := r.db.View(func(tx *bbolt.Tx) error {
		owner := tx.Bucket(bucketOwnerAssignments).Bucket([]byte(ownerID))
		if owner == nil {
			return nil
		}
		return owner.ForEach(func(_, id []byte) error {
			rec, err := getBoltAssignment(tx, id)
			if err != nil || rec == nil {
				return err
			}
			out = append(out, rec.toModel())
			return nil
		})
	})
	if err != nil {
		return nil, storageErr("list assignments by owner", err)
	}
	return out, nil
}

// ListAll は全課題を作成順で返す。
func (r *BoltAssignmentRepo) ListAll(_ context.Context) ([]*model.Assignment, error) {
	out := make([]*model.Assignment, 0)
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAssignments).ForEach(func(_, v []byte) error {
			var rec boltAssignment
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec.toModel())
			return nil
		})
	})
	if err != nil {
		return nil, storageErr("list assignments", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func getBoltAssignment(tx *bbolt.Tx, id []byte) (*boltAssignment, error) {
	v := tx.Bucket(bucketAssignments).Get(id)
	if v == nil {
		return nil, nil
	}
	var rec boltAssignment
	if err := json.Unmarshal(v, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// compile-time interface check
var _ AssignmentRepository = (*BoltAssignmentRepo)(nil)
