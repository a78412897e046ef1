package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"board-api/domain"
)

// Storage provides access to the board tables in a MySQL-compatible database.
type Storage struct {
	db *sql.DB
}

// New opens a connection pool for the given DSN. The DSN must carry
// parseTime=true so timestamp columns scan into time.Time.
func New(dsn string, maxOpen, maxIdle int, connMaxLifetime time.Duration) (*Storage, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(connMaxLifetime)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &Storage{db: db}, nil
}

// NewWithDB wraps an existing database handle. Intended for tests.
func NewWithDB(db *sql.DB) *Storage {
	return &Storage{db: db}
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	return s.db.Close()
}

const snapshotQuery = `SELECT t.id, t.titulo, t.status_id, t.position, f.email, s.nome, t.data_fim, t.ultima_atualizacao
FROM tarefas t
LEFT JOIN funcionarios f ON f.id = t.responsavel_id
LEFT JOIN sistemas s ON s.id = t.sistema_id
ORDER BY t.status_id ASC, t.position ASC, t.id ASC`

// FetchSnapshot returns the full board joined with assignee and system display
// names, ordered by (status_id, position) with id as the stable tie-breaker.
// It is a plain read with no locking and is safe to call on every stream tick.
func (s *Storage) FetchSnapshot(ctx context.Context) (domain.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, snapshotQuery)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		var (
			t       domain.Task
			email   sql.NullString
			system  sql.NullString
			due     sql.NullString
			updated sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.Title, &t.StatusID, &t.Position, &email, &system, &due, &updated); err != nil {
			return domain.Snapshot{}, err
		}
		t.AssigneeEmail = email.String
		t.SystemName = system.String
		if due.Valid {
			d := due.String
			t.DueDate = &d
		}
		if updated.Valid {
			u := updated.Time
			t.UpdatedAt = &u
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return domain.Snapshot{}, err
	}
	return domain.Snapshot{Seq: nextSeq(), Tasks: tasks}, nil
}

// LastModified returns the most recent ultima_atualizacao on the board, used
// as the freshness watermark for conditional polls. An empty board reports the
// zero time.
func (s *Storage) LastModified(ctx context.Context) (time.Time, error) {
	var ts sql.NullTime
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(ultima_atualizacao) FROM tarefas`).Scan(&ts); err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return ts.Time, nil
}

// Mutations below are blind unconditional updates: whichever call reaches the
// database last wins, and re-applying the same value is a no-op. Every
// mutation bumps ultima_atualizacao so the poll watermark moves.

// UpdateStatus moves a task to another lane.
func (s *Storage) UpdateStatus(ctx context.Context, id int64, statusID int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tarefas SET status_id = ?, ultima_atualizacao = NOW(3) WHERE id = ?`, statusID, id)
	return err
}

// UpdatePosition changes a task's intra-lane ordering key.
func (s *Storage) UpdatePosition(ctx context.Context, id int64, position float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tarefas SET position = ?, ultima_atualizacao = NOW(3) WHERE id = ?`, position, id)
	return err
}

// UpdateDueDate sets or clears data_fim. due is a YYYY-MM-DD string or nil.
func (s *Storage) UpdateDueDate(ctx context.Context, id int64, due *string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tarefas SET data_fim = ?, ultima_atualizacao = NOW(3) WHERE id = ?`, due, id)
	return err
}

// TouchTask refreshes ultima_atualizacao without changing any other column.
func (s *Storage) TouchTask(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tarefas SET ultima_atualizacao = NOW(3) WHERE id = ?`, id)
	return err
}
