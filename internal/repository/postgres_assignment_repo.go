package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/assignman/internal/model"
)

// assignmentRow はassignmentsテーブルの1行を表す。
type assignmentRow struct {
	ID        string    `db:"id"`
	OwnerID   string    `db:"owner_id"`
	Name      string    `db:"name"`
	DueDate   time.Time `db:"due_date"`
	Position  int64     `db:"position"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r assignmentRow) toModel() *model.Assignment {
	return &model.Assignment{
		ID:        r.ID,
		OwnerID:   r.OwnerID,
		Name:      r.Name,
		DueDate:   r.DueDate.UTC(),
		Position:  r.Position,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

const assignmentColumns = `id, owner_id, name, due_date, position, created_at, updated_at`

// PostgresAssignmentRepo はPostgreSQLを使用した課題リポジトリ。
// positionはBIGSERIAL列で採番する。
type PostgresAssignmentRepo struct {
	db *sqlx.DB
}

// NewPostgresAssignmentRepo はPostgresAssignmentRepoを生成する。
func NewPostgresAssignmentRepo(db *sqlx.DB) *PostgresAssignmentRepo {
	return &PostgresAssignmentRepo{db: db}
}

// Create は課題を作成し、採番されたPositionを設定する。
func (r *PostgresAssignmentRepo) Create(ctx context.Context, a *model.Assignment) error {
	err := r.db.GetContext(ctx, &a.Position,
		`INSERT INTO assignments (id, owner_id, name, due_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING position`,
		a.ID, a.OwnerID, a.Name, a.DueDate, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return storageErr("insert assignment", err)
	}
	return nil
}

// FindByID は指定IDの課題を取得する。見つからない場合はnilを返す。
func (r *PostgresAssignmentRepo) FindByID(ctx context.Context, id string) (*model.Assignment, error) {
	var row assignmentRow
	err := r.db.GetContext(ctx, &row, `SELECT `+assignmentColumns+` FROM assignments WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) || isMalformedID(err) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("find assignment by ID", err)
	}
	return row.toModel(), nil
}

// Update は単一のUPDATE文で部分更新を行う。
// nilのフィールドはCOALESCEにより既存値を維持する。
func (r *PostgresAssignmentRepo) Update(ctx context.Context, id string, patch model.AssignmentPatch, now time.Time) (*model.Assignment, error) {
	var name sql.NullString
	if patch.Name != nil {
		name = sql.NullString{String: *patch.Name, Valid: true}
	}
	var due sql.NullTime
	if patch.DueDate != nil {
		due = sql.NullTime{Time: *patch.DueDate, Valid: true}
	}

	var row assignmentRow
	err := r.db.GetContext(ctx, &row,
		`UPDATE assignments
		 SET name = COALESCE($2, name),
		     due_date = COALESCE($3, due_date),
		     updated_at = $4
		 WHERE id = $1
		 RETURNING `+assignmentColumns,
		id, name, due, now,
	)
	if errors.Is(err, sql.ErrNoRows) || isMalformedID(err) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("update assignment", err)
	}
	return row.toModel(), nil
}

// Delete は指定IDの課題を削除する。
func (r *PostgresAssignmentRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM assignments WHERE id = $1`, id)
	if isMalformedID(err) {
		return ErrNotFound
	}
	if err != nil {
		return storageErr("delete assignment", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storageErr("get rows affected", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByOwner は指定ユーザーの課題一覧を作成順で返す。
func (r *PostgresAssignmentRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.Assignment, error) {
	var rows []assignmentRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+assignmentColumns+` FROM assignments WHERE owner_id = $1 ORDER BY position`,
		ownerID,
	)
	if isMalformedID(err) {
		return []*model.Assignment{}, nil
	}
	if err != nil {
		return nil, storageErr("list assignments by owner", err)
	}
	return assignmentRowsToModels(rows), nil
}

// ListAll は全課題を作成順で返す。
func (r *PostgresAssignmentRepo) ListAll(ctx context.Context) ([]*model.Assignment, error) {
	var rows []assignmentRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+assignmentColumns+` FROM assignments ORDER BY position`); err != nil {
		return nil, storageErr("list assignments", err)
	}
	return assignmentRowsToModels(rows), nil
}

func assignmentRowsToModels(rows []assignmentRow) []*model.Assignment {
	out := make([]*model.Assignment, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out
}

// compile-time interface check
var _ AssignmentRepository = (*PostgresAssignmentRepo)(nil)
