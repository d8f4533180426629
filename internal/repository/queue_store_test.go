package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/kursadbilgin/push-engine/internal/domain"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockStore(t *testing.T) (*GormQueueStore, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open mock db: %v", err)
	}
	return gormStoreOn(t, sqlDB), mock
}

func gormStoreOn(t *testing.T, sqlDB *sql.DB) *GormQueueStore {
	t.Helper()
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Discard,
	})
	if err != nil {
		t.Fatalf("failed to open gorm: %v", err)
	}
	return NewGormQueueStore(db)
}

func TestGormQueueStoreSelectDueBatchQuery(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	cols := []string{"id", "device_ref", "kind", "payload", "priority", "retry_count", "max_retries", "scheduled_at", "sent_at", "failed_at", "last_attempt_at", "created_at"}
	mock.ExpectQuery(
		`SELECT \* FROM "notification_entries" WHERE .*sent_at IS NULL AND failed_at IS NULL.*` +
			`retry_count < max_retries AND scheduled_at <= \$1.*` +
			regexp.QuoteMeta("last_attempt_at IS NULL OR scheduled_at > last_attempt_at") +
			`.*ORDER BY scheduled_at ASC,created_at ASC,id ASC LIMIT`,
	).WillReturnRows(sqlmock.NewRows(cols).
		AddRow("e1", "device-1", "call", []byte{0x01}, "high", 0, 3, testNow, nil, nil, nil, testNow))

	got, err := store.SelectDueBatch(context.Background(), 5, testNow)
	if err != nil {
		t.Fatalf("SelectDueBatch() error = %v", err)
	}
	if len(got) != 1 || got[0].Kind != domain.KindCall || got[0].Priority != domain.PriorityHigh {
		t.Fatalf("SelectDueBatch() = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGormQueueStoreSelectDueBatchIsReadOnly(t *testing.T) {
	t.Parallel()

	var statements []string
	readOnly := sqlmock.QueryMatcherFunc(func(expected, actual string) error {
		statements = append(statements, actual)
		upper := strings.ToUpper(actual)
		if !strings.HasPrefix(strings.TrimSpace(upper), "SELECT") {
			return fmt.Errorf("not a plain select: %s", actual)
		}
		for _, locking := range []string{"FOR UPDATE", "FOR SHARE", "SKIP LOCKED"} {
			if strings.Contains(upper, locking) {
				return fmt.Errorf("select takes row locks (%s): %s", locking, actual)
			}
		}
		return nil
	})

	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(readOnly))
	if err != nil {
		t.Fatalf("failed to open mock db: %v", err)
	}
	store := gormStoreOn(t, sqlDB)

	cols := []string{"id", "device_ref", "kind", "payload", "priority", "retry_count", "max_retries", "scheduled_at", "sent_at", "failed_at", "last_attempt_at", "created_at"}
	rows := func() *sqlmock.Rows {
		return sqlmock.NewRows(cols).
			AddRow("e1", "device-1", "call", []byte{0x01}, "high", 0, 3, testNow, nil, nil, nil, testNow).
			AddRow("e2", "device-2", "message", []byte{0x02}, "normal", 1, 3, testNow, nil, nil, nil, testNow)
	}
	mock.ExpectQuery("select due").WillReturnRows(rows())
	mock.ExpectQuery("select due").WillReturnRows(rows())

	first, err := store.SelectDueBatch(context.Background(), 10, testNow)
	if err != nil {
		t.Fatalf("first SelectDueBatch() error = %v", err)
	}
	second, err := store.SelectDueBatch(context.Background(), 10, testNow)
	if err != nil {
		t.Fatalf("second SelectDueBatch() error = %v", err)
	}

	if len(first) != 2 || len(second) != 2 || first[0].ID != second[0].ID || first[1].ID != second[1].ID {
		t.Fatalf("SelectDueBatch() = %v then %v, want the same entries", first, second)
	}
	if len(statements) != 2 {
		t.Fatalf("statements = %v, want exactly two selects", statements)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGormQueueStoreUpdateMapsZeroRows(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		count   int64
		wantErr error
	}{
		{name: "missing entry", count: 0, wantErr: domain.ErrNotFound},
		{name: "terminal entry", count: 1, wantErr: domain.ErrConflict},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store, mock := newMockStore(t)
			mock.ExpectExec(`UPDATE "notification_entries" SET .*GREATEST\(scheduled_at,.*WHERE id = .*sent_at IS NULL AND failed_at IS NULL`).
				WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectQuery(`SELECT count\(\*\) FROM "notification_entries" WHERE id = `).
				WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(tt.count))

			err := store.Update(context.Background(), newTestEntry("e1", testNow))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Update() error = %v, want %v", err, tt.wantErr)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("unmet expectations: %v", err)
			}
		})
	}
}

func TestGormQueueStoreRearmReportsRowsAffected(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE "notification_entries" SET "scheduled_at"=GREATEST\(scheduled_at,`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "notification_entries" SET "scheduled_at"=GREATEST\(scheduled_at,`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.Rearm(context.Background(), "e1", testNow)
	if err != nil || !ok {
		t.Fatalf("Rearm() = %v, %v, want true", ok, err)
	}
	ok, err = store.Rearm(context.Background(), "e1", testNow)
	if err != nil || ok {
		t.Fatalf("Rearm() on terminal entry = %v, %v, want false", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGormQueueStoreDeleteOlderThan(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	cutoff := testNow.Add(-7 * 24 * time.Hour)

	mock.ExpectExec(`DELETE FROM "notification_entries" WHERE sent_at IS NOT NULL AND sent_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(`DELETE FROM "notification_entries" WHERE failed_at IS NOT NULL AND failed_at < \$1`).
		WithArgs(cutoff).
		WillReturnError(errors.New("connection reset"))

	deleted, err := store.DeleteDeliveredOlderThan(context.Background(), cutoff)
	if err != nil || deleted != 4 {
		t.Fatalf("DeleteDeliveredOlderThan() = %d, %v, want 4", deleted, err)
	}
	if _, err := store.DeleteFailedOlderThan(context.Background(), cutoff); err == nil {
		t.Fatal("DeleteFailedOlderThan() should surface driver errors")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGormQueueStoreListAuditDefaultsDetail(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT \* FROM "notification_audit_records" WHERE entry_id = \$1 ORDER BY recorded_at ASC,id ASC`).
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "entry_id", "outcome", "gateway_detail", "recorded_at"}).
			AddRow("a1", "e1", "retry-scheduled", `{"statusCode":503}`, testNow))

	records, err := store.ListAudit(context.Background(), "e1")
	if err != nil {
		t.Fatalf("ListAudit() error = %v", err)
	}
	if len(records) != 1 || records[0].Outcome != domain.AuditOutcomeRetryScheduled {
		t.Fatalf("ListAudit() = %+v", records)
	}
	if string(records[0].GatewayDetail) != `{"statusCode":503}` {
		t.Fatalf("GatewayDetail = %s", records[0].GatewayDetail)
	}

	model := auditModelFromDomain(&domain.AuditRecord{EntryID: "e1", Outcome: domain.AuditOutcomeSuccess})
	if model.GatewayDetail != emptyGatewayDetail {
		t.Fatalf("empty detail stored as %q, want %q", model.GatewayDetail, emptyGatewayDetail)
	}
}

func TestIsUniqueViolationError(t *testing.T) {
	t.Parallel()

	if !isUniqueViolationError(gorm.ErrDuplicatedKey) {
		t.Fatal("gorm.ErrDuplicatedKey should be a unique violation")
	}
	if !isUniqueViolationError(errors.New(`ERROR: duplicate key value violates unique constraint "notification_entries_pkey"`)) {
		t.Fatal("postgres duplicate key message should be a unique violation")
	}
	if isUniqueViolationError(errors.New("connection refused")) || isUniqueViolationError(nil) {
		t.Fatal("unrelated errors are not unique violations")
	}
}
