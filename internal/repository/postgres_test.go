package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/growth-entitlements/internal/domain"
)

var (
	grantColumnNames = []string{
		"id", "subject_identity", "subject_name", "source_kind", "source_reference", "order_id", "code_id",
		"max_usage", "usage_count", "is_enabled", "expires_at", "enabled_at", "disabled_at",
		"granted_by", "notes", "created_at", "updated_at",
	}
	codeColumnNames = []string{
		"id", "code", "description", "max_usage", "current_usage", "is_active", "expires_at",
		"created_by", "created_at", "updated_at",
	}
	created = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
)

const (
	grantID = "7f0c2a52-5a3e-4d55-9d32-3b1a9c1f6e01"
	codeID  = "b4e3c1d0-2f6a-4c8e-8a71-5d9e0f3b2c11"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func orderGrantRow(maxUsage, usage int, enabled bool) *pgxmock.Rows {
	orderID := int64(1001)
	return pgxmock.NewRows(grantColumnNames).AddRow(
		grantID, "a@x.com", "Sara", domain.SourceOrder, "WC-1001", &orderID, nil,
		maxUsage, usage, enabled, nil, nil, nil,
		"checkout", "", created, created,
	)
}

func codeGrantRow(maxUsage, usage int) *pgxmock.Rows {
	id := codeID
	return pgxmock.NewRows(grantColumnNames).AddRow(
		grantID, "b@x.com", "", domain.SourceCode, "PROMO5", nil, &id,
		maxUsage, usage, true, nil, nil, nil,
		"code", "", created, created,
	)
}

func codeRow(maxUsage, usage int, active bool) *pgxmock.Rows {
	return pgxmock.NewRows(codeColumnNames).AddRow(
		codeID, "PROMO5", "spring promo", maxUsage, usage, active, nil,
		"admin", created, created,
	)
}

func TestIncrementUsageConsumesOrderUnit(t *testing.T) {
	mock := newMock(t)
	repo := NewGrantRepository(mock)
	written := created.Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE OF g").WithArgs(grantID).WillReturnRows(orderGrantRow(3, 1, true))
	mock.ExpectQuery("UPDATE grants SET usage_count=usage_count\\+1").WithArgs(grantID).
		WillReturnRows(pgxmock.NewRows([]string{"max_usage", "usage_count", "updated_at"}).AddRow(3, 2, written))
	mock.ExpectCommit()

	grant, err := repo.IncrementUsage(context.Background(), grantID)
	require.NoError(t, err)
	assert.Equal(t, 2, grant.UsageCount)
	assert.Equal(t, 1, grant.Remaining())
	assert.Equal(t, written, grant.UpdatedAt)
	assert.Equal(t, domain.OriginStore, grant.Origin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementUsageLosingLastUnitIsExhausted(t *testing.T) {
	mock := newMock(t)
	repo := NewGrantRepository(mock)

	// The row looked free when locked, but the conditional update matched nothing.
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE OF g").WithArgs(grantID).WillReturnRows(orderGrantRow(1, 0, true))
	mock.ExpectQuery("UPDATE grants SET usage_count=usage_count\\+1").WithArgs(grantID).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	grant, err := repo.IncrementUsage(context.Background(), grantID)
	assert.Nil(t, grant)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementUsageRejectsDisabledGrant(t *testing.T) {
	mock := newMock(t)
	repo := NewGrantRepository(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE OF g").WithArgs(grantID).WillReturnRows(orderGrantRow(3, 0, false))
	mock.ExpectRollback()

	_, err := repo.IncrementUsage(context.Background(), grantID)
	assert.ErrorIs(t, err, ErrGrantDisabled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementUsageConsumesSharedCodeCounter(t *testing.T) {
	mock := newMock(t)
	repo := NewGrantRepository(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE OF g").WithArgs(grantID).WillReturnRows(codeGrantRow(5, 2))
	mock.ExpectQuery("UPDATE redemption_codes SET current_usage=current_usage\\+1").WithArgs(codeID).
		WillReturnRows(pgxmock.NewRows([]string{"max_usage", "current_usage"}).AddRow(5, 3))
	mock.ExpectExec("INSERT INTO redemption_records").WithArgs(codeID, "b@x.com", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	grant, err := repo.IncrementUsage(context.Background(), grantID)
	require.NoError(t, err)
	assert.Equal(t, 5, grant.MaxUsage)
	assert.Equal(t, 3, grant.UsageCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementUsageRollsBackFailedCodeRecord(t *testing.T) {
	mock := newMock(t)
	repo := NewGrantRepository(mock)
	boom := errors.New("connection reset")

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE OF g").WithArgs(grantID).WillReturnRows(codeGrantRow(5, 2))
	mock.ExpectQuery("UPDATE redemption_codes SET current_usage=current_usage\\+1").WithArgs(codeID).
		WillReturnRows(pgxmock.NewRows([]string{"max_usage", "current_usage"}).AddRow(5, 3))
	mock.ExpectExec("INSERT INTO redemption_records").WillReturnError(boom)
	mock.ExpectRollback()

	_, err := repo.IncrementUsage(context.Background(), grantID)
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsDefinitive(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemCodeCommitsCounterRecordAndGrant(t *testing.T) {
	mock := newMock(t)
	repo := NewCodeRepository(mock)
	usedAt := created.Add(time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE redemption_codes SET current_usage=current_usage\\+1").WithArgs(codeID).
		WillReturnRows(codeRow(5, 1, true))
	mock.ExpectQuery("INSERT INTO redemption_records").
		WillReturnRows(pgxmock.NewRows([]string{"id", "used_at"}).AddRow("rec-1", usedAt))
	id := codeID
	mock.ExpectQuery("INSERT INTO grants").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "subject_identity", "subject_name", "source_kind", "source_reference", "order_id", "code_id",
			"is_enabled", "enabled_at", "disabled_at", "granted_by", "notes", "created_at", "updated_at",
		}).AddRow(grantID, "a@x.com", "Sara", domain.SourceCode, "PROMO5", nil, &id,
			true, nil, nil, "code", "", created, created))
	mock.ExpectCommit()

	record := &domain.RedemptionRecord{SubjectIdentity: "a@x.com", SubjectName: "Sara"}
	code, grant, err := repo.RedeemCode(context.Background(), codeID, record)
	require.NoError(t, err)
	assert.Equal(t, 1, code.CurrentUsage)
	assert.Equal(t, "rec-1", record.ID)
	assert.Equal(t, "PROMO5", record.Code)
	assert.Equal(t, codeID, record.CodeID)
	assert.Equal(t, 5, grant.MaxUsage)
	assert.Equal(t, 1, grant.UsageCount)
	assert.Equal(t, 4, grant.Remaining())
	assert.Equal(t, domain.OriginStore, grant.Origin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemCodeRollsBackWhenGrantUpsertFails(t *testing.T) {
	mock := newMock(t)
	repo := NewCodeRepository(mock)
	boom := errors.New("write timeout")

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE redemption_codes SET current_usage=current_usage\\+1").WithArgs(codeID).
		WillReturnRows(codeRow(5, 1, true))
	mock.ExpectQuery("INSERT INTO redemption_records").
		WillReturnRows(pgxmock.NewRows([]string{"id", "used_at"}).AddRow("rec-1", created))
	mock.ExpectQuery("INSERT INTO grants").WillReturnError(boom)
	mock.ExpectRollback()

	code, grant, err := repo.RedeemCode(context.Background(), codeID, &domain.RedemptionRecord{SubjectIdentity: "a@x.com"})
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, code)
	assert.Nil(t, grant)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemCodeClassifiesUnredeemableCodes(t *testing.T) {
	tests := []struct {
		name   string
		row    *pgxmock.Rows
		expect error
	}{
		{name: "at capacity", row: codeRow(2, 2, true), expect: ErrExhausted},
		{name: "deactivated", row: codeRow(5, 1, false), expect: ErrCodeInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			repo := NewCodeRepository(mock)

			mock.ExpectBegin()
			mock.ExpectQuery("UPDATE redemption_codes SET current_usage=current_usage\\+1").WithArgs(codeID).
				WillReturnError(pgx.ErrNoRows)
			mock.ExpectQuery("FROM redemption_codes WHERE id").WithArgs(codeID).WillReturnRows(tt.row)
			mock.ExpectRollback()

			_, _, err := repo.RedeemCode(context.Background(), codeID, &domain.RedemptionRecord{SubjectIdentity: "a@x.com"})
			assert.ErrorIs(t, err, tt.expect)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestMalformedIDsAreNotFound(t *testing.T) {
	invalid := &pgconn.PgError{Code: "22P02", Message: "invalid input syntax for type uuid"}
	ctx := context.Background()

	mock := newMock(t)
	grants := NewGrantRepository(mock)
	codes := NewCodeRepository(mock)

	mock.ExpectQuery("WHERE g.id").WithArgs("abc").WillReturnError(invalid)
	_, err := grants.GetGrantByID(ctx, "abc")
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectExec("UPDATE grants SET is_enabled").WillReturnError(invalid)
	_, err = grants.SetGrantEnabled(ctx, "abc", false, "admin", "")
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectExec("DELETE FROM redemption_codes").WithArgs("abc").WillReturnError(invalid)
	assert.ErrorIs(t, codes.DeleteCode(ctx, "abc"), ErrNotFound)

	abc := "abc"
	records, err := codes.ListRedemptions(ctx, &abc)
	require.NoError(t, err)
	assert.Empty(t, records)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCodeMapsUniqueViolation(t *testing.T) {
	mock := newMock(t)
	repo := NewCodeRepository(mock)

	mock.ExpectQuery("INSERT INTO redemption_codes").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "redemption_codes_code_key"})

	err := repo.CreateCode(context.Background(), &domain.RedemptionCode{Code: "spring", MaxUsage: 5, IsActive: true})
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}
