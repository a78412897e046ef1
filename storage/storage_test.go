package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var (
	snapshotQueryRe = regexp.QuoteMeta(snapshotQuery)
	snapshotColumns = []string{"id", "titulo", "status_id", "position", "email", "nome", "data_fim", "ultima_atualizacao"}
)

func setupStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	store := NewWithDB(db)
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		_ = store.Close()
	})
	return store, mock
}

func TestFetchSnapshot(t *testing.T) {
	store, mock := setupStorage(t)
	updated := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(snapshotQueryRe).WillReturnRows(
		sqlmock.NewRows(snapshotColumns).
			AddRow(1, "deploy", 1, 1.0, "ana@example.com", "billing", "2026-09-30", updated).
			AddRow(2, "review", 1, 2.0, nil, nil, nil, nil),
	)

	snap, err := store.FetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if snap.Seq <= 0 {
		t.Fatalf("expected positive snapshot seq, got %d", snap.Seq)
	}
	if len(snap.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(snap.Tasks))
	}

	first := snap.Tasks[0]
	if first.ID != 1 || first.Title != "deploy" || first.StatusID != 1 || first.Position != 1.0 {
		t.Fatalf("unexpected first task: %+v", first)
	}
	if first.AssigneeEmail != "ana@example.com" || first.SystemName != "billing" {
		t.Fatalf("join columns not mapped: %+v", first)
	}
	if first.DueDate == nil || *first.DueDate != "2026-09-30" {
		t.Fatalf("unexpected due date: %v", first.DueDate)
	}
	if first.UpdatedAt == nil || !first.UpdatedAt.Equal(updated) {
		t.Fatalf("unexpected updated at: %v", first.UpdatedAt)
	}

	second := snap.Tasks[1]
	if second.AssigneeEmail != "" || second.SystemName != "" || second.DueDate != nil || second.UpdatedAt != nil {
		t.Fatalf("null columns should map to zero values: %+v", second)
	}
}

func TestFetchSnapshotSeqIncreases(t *testing.T) {
	store, mock := setupStorage(t)
	mock.ExpectQuery(snapshotQueryRe).WillReturnRows(sqlmock.NewRows(snapshotColumns))
	mock.ExpectQuery(snapshotQueryRe).WillReturnRows(sqlmock.NewRows(snapshotColumns))

	first, err := store.FetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	second, err := store.FetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if second.Seq <= first.Seq {
		t.Fatalf("expected strictly increasing seq, got %d then %d", first.Seq, second.Seq)
	}
	if first.Tasks == nil || len(first.Tasks) != 0 {
		t.Fatalf("empty board should produce an empty, non-nil task list: %#v", first.Tasks)
	}
}

func TestFetchSnapshotQueryError(t *testing.T) {
	store, mock := setupStorage(t)
	mock.ExpectQuery(snapshotQueryRe).WillReturnError(errors.New("connection reset"))

	if _, err := store.FetchSnapshot(context.Background()); err == nil {
		t.Fatal("expected query error to propagate")
	}
}

func TestLastModified(t *testing.T) {
	store, mock := setupStorage(t)
	watermark := time.Date(2026, 9, 1, 12, 30, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT MAX(ultima_atualizacao) FROM tarefas`)).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(watermark))

	ts, err := store.LastModified(context.Background())
	if err != nil {
		t.Fatalf("last modified: %v", err)
	}
	if !ts.Equal(watermark) {
		t.Fatalf("unexpected watermark: %v", ts)
	}
}

func TestLastModifiedEmptyBoard(t *testing.T) {
	store, mock := setupStorage(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT MAX(ultima_atualizacao) FROM tarefas`)).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	ts, err := store.LastModified(context.Background())
	if err != nil {
		t.Fatalf("last modified: %v", err)
	}
	if !ts.IsZero() {
		t.Fatalf("expected zero time for empty board, got %v", ts)
	}
}

func TestUpdateStatus(t *testing.T) {
	store, mock := setupStorage(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE tarefas SET status_id = ?, ultima_atualizacao = NOW(3) WHERE id = ?`)).
		WithArgs(2, int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.UpdateStatus(context.Background(), 42, 2); err != nil {
		t.Fatalf("update status: %v", err)
	}
}

func TestUpdateStatusSameValueIsNoError(t *testing.T) {
	store, mock := setupStorage(t)
	// MySQL reports zero affected rows when the value does not change; the
	// update must still succeed.
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE tarefas SET status_id = ?, ultima_atualizacao = NOW(3) WHERE id = ?`)).
		WithArgs(2, int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.UpdateStatus(context.Background(), 42, 2); err != nil {
		t.Fatalf("idempotent update returned error: %v", err)
	}
}

func TestUpdatePosition(t *testing.T) {
	store, mock := setupStorage(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE tarefas SET position = ?, ultima_atualizacao = NOW(3) WHERE id = ?`)).
		WithArgs(2.5, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.UpdatePosition(context.Background(), 7, 2.5); err != nil {
		t.Fatalf("update position: %v", err)
	}
}

func TestUpdateDueDate(t *testing.T) {
	store, mock := setupStorage(t)
	due := "2026-09-30"
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE tarefas SET data_fim = ?, ultima_atualizacao = NOW(3) WHERE id = ?`)).
		WithArgs(due, int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.UpdateDueDate(context.Background(), 9, &due); err != nil {
		t.Fatalf("update due date: %v", err)
	}
}

func TestUpdateDueDateClear(t *testing.T) {
	store, mock := setupStorage(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE tarefas SET data_fim = ?, ultima_atualizacao = NOW(3) WHERE id = ?`)).
		WithArgs(nil, int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.UpdateDueDate(context.Background(), 9, nil); err != nil {
		t.Fatalf("clear due date: %v", err)
	}
}

func TestTouchTask(t *testing.T) {
	store, mock := setupStorage(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE tarefas SET ultima_atualizacao = NOW(3) WHERE id = ?`)).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.TouchTask(context.Background(), 5); err != nil {
		t.Fatalf("touch: %v", err)
	}
}
