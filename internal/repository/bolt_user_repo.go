package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/hitoshi/assignman/internal/model"
)

// boltUser はusersバケットに保存するJSONレコード。
type boltUser struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (b boltUser) toModel() *model.User {
	return &model.User{
		ID:           b.ID,
		Username:     b.Username,
		PasswordHash: b.PasswordHash,
		FirstName:    b.FirstName,
		LastName:     b.LastName,
		IsAdmin:      b.IsAdmin,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}

// BoltUserRepo はbboltを使用したユーザーリポジトリ。
// usernamesバケットでユーザー名からIDを引く。
type BoltUserRepo struct {
	db *bbolt.DB
}

// NewBoltUserRepo はBoltUserRepoを生成する。
// バケットはInitBoltBucketsで作成済みであること。
func NewBoltUserRepo(db *bbolt.DB) *BoltUserRepo {
	return &BoltUserRepo{db: db}
}

// Create はユーザーを作成する。
// 重複判定と書き込みは同一の書き込みトランザクション内で行う。
func (r *BoltUserRepo) Create(_ context.Context, user *model.User) error {
	data, err := json.Marshal(boltUser{
		ID:           user.ID,
		Username:     user.Username,
		PasswordHash: user.PasswordHash,
		FirstName:    user.FirstName,
		LastName:     user.LastName,
		IsAdmin:      user.IsAdmin,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	})
	if err != nil {
		return storageErr("marshal user", err)
	}

	err = r.db.Update(func(tx *bbolt.Tx) error {
		names := tx.Bucket(bucketUsernames)
		if names.Get([]byte(user.Username)) != nil {
			return ErrDuplicateUsername
		}
		if err := names.Put([]byte(user.Username), []byte(user.ID)); err != nil {
			return err
		}
		return tx.Bucket(bucketUsers).Put([]byte(user.ID), data)
	})
	if errors.Is(err, ErrDuplicateUsername) {
		return ErrDuplicateUsername
	}
	if err != nil {
		return storageErr("insert user", err)
	}
	return nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *BoltUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	var user *model.User
	err := r.db.View(func(tx *bbolt.Tx) error {
		var err error
		user, err = getBoltUser(tx, []byte(id))
		return err
	})
	if err != nil {
		return nil, storageErr("find user by ID", err)
	}
	return user, nil
}

// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
func (r *BoltUserRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	var user *model.User
	err := r.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketUsernames).Get([]byte(username))
		if id == nil {
			return nil
		}
		var err error
		user, err = getBoltUser(tx, id)
		return err
	})
	if err != nil {
		return nil, storageErr("find user by username", err)
	}
	return user, nil
}

// List は全ユーザーを作成日時順に返す。
func (r *BoltUserRepo) List(_ context.Context) ([]*model.User, error) {
	users := make([]*model.User, 0)
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(_, v []byte) error {
			var rec boltUser
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			users = append(users, rec.toModel())
			return nil
		})
	})
	if err != nil {
		return nil, storageErr("list users", err)
	}

	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].Username < users[j].Username
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func getBoltUser(tx *bbolt.Tx, id []byte) (*model.User, error) {
	v := tx.Bucket(bucketUsers).Get(id)
	if v == nil {
		return nil, nil
	}
	var rec boltUser
	if err := json.Unmarshal(v, &rec); err != nil {
		return nil, err
	}
	return rec.toModel(), nil
}

// compile-time interface check
var _ UserRepository = (*BoltUserRepo)(nil)
