package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/assignman/internal/model"
)

// memoryAssignment は課題1件と、その課題専用のロックを保持する。
type memoryAssignment struct {
	mu      sync.Mutex
	a       model.Assignment
	deleted bool
}

func (m *memoryAssignment) snapshot() (*model.Assignment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleted {
		return nil, false
	}
	c := m.a
	return &c, true
}

// MemoryAssignmentRepo はプロセス内メモリに保持する課題リポジトリ。
// インデックスはRWMutexで保護し、書き込みはレコード単位のロックで直列化する。
// ロック順序は常にインデックス→レコードとする。
type MemoryAssignmentRepo struct {
	mu      sync.RWMutex
	records map[string]*memoryAssignment
	seq     int64
}

// NewMemoryAssignmentRepo はMemoryAssignmentRepoを生成する。
func NewMemoryAssignmentRepo() *MemoryAssignmentRepo {
	return &MemoryAssignmentRepo{records: make(map[string]*memoryAssignment)}
}

// Create は課題を作成し、Positionを採番する。
func (r *MemoryAssignmentRepo) Create(_ context.Context, a *model.Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	a.Position = r.seq
	r.records[a.ID] = &memoryAssignment{a: *a}
	return nil
}

// FindByID は指定IDの課題を取得する。見つからない場合はnilを返す。
func (r *MemoryAssignmentRepo) FindByID(_ context.Context, id string) (*model.Assignment, error) {
	rec := r.lookup(id)
	if rec == nil {
		return nil, nil
	}
	a, ok := rec.snapshot()
	if !ok {
		return nil, nil
	}
	return a, nil
}

// Update はレコードのロックを保持したまま部分更新を適用する。
// 同一課題への同時更新は最後にコミットされたものが残る。
func (r *MemoryAssignmentRepo) Update(_ context.Context, id string, patch model.AssignmentPatch, now time.Time) (*model.Assignment, error) {
	rec := r.lookup(id)
	if rec == nil {
		return nil, nil
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return nil, nil
	}
	if patch.Name != nil {
		rec.a.Name = *patch.Name
	}
	if patch.DueDate != nil {
		rec.a.DueDate = *patch.DueDate
	}
	rec.a.UpdatedAt = now
	c := rec.a
	return &c, nil
}

// Delete は指定IDの課題を削除する。
func (r *MemoryAssignmentRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return ErrNotFound
	}
	delete(r.records, id)

	rec.mu.Lock()
	rec.deleted = true
	rec.mu.Unlock()
	return nil
}

// ListByOwner は指定ユーザーの課題一覧を作成順で返す。
func (r *MemoryAssignmentRepo) ListByOwner(_ context.Context, ownerID string) ([]*model.Assignment, error) {
	return r.collect(func(a *model.Assignment) bool { return a.OwnerID == ownerID }), nil
}

// ListAll は全課題を作成順で返す。
func (r *MemoryAssignmentRepo) ListAll(_ context.Context) ([]*model.Assignment, error) {
	return r.collect(func(*model.Assignment) bool { return true }), nil
}

func (r *MemoryAssignmentRepo) lookup(id string) *memoryAssignment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records[id]
}

func (r *MemoryAssignmentRepo) collect(keep func(*model.Assignment) bool) []*model.Assignment {
	r.mu.RLock()
	out := make([]*model.Assignment, 0)
	for _, rec := range r.records {
		a, ok := rec.snapshot()
		if ok && keep(a) {
			out = append(out, a)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// compile-time interface check
var _ AssignmentRepository = (*MemoryAssignmentRepo)(nil)
