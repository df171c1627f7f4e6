package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/growth-entitlements/internal/domain"
)

const codeColumns = `id, code, description, max_usage, current_usage, is_active, expires_at, created_by, created_at, updated_at`

type codeRepository struct {
	pool DB
}

// NewCodeRepository instantiates the Postgres-backed code repository.
func NewCodeRepository(pool DB) CodeRepository {
	return &codeRepository{pool: pool}
}

func (r *codeRepository) CreateCode(ctx context.Context, code *domain.RedemptionCode) error {
	const query = `
        INSERT INTO redemption_codes (code, description, max_usage, current_usage, is_active, expires_at, created_by)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at, updated_at`
	code.Code = domain.NormalizeCode(code.Code)
	err := r.pool.QueryRow(ctx, query,
		code.Code,
		code.Description,
		code.MaxUsage,
		code.CurrentUsage,
		code.IsActive,
		code.ExpiresAt,
		code.CreatedBy,
	).Scan(&code.ID, &code.CreatedAt, &code.UpdatedAt)
	return translateWriteError(err)
}

func (r *codeRepository) GetCode(ctx context.Context, code string) (*domain.RedemptionCode, error) {
	query := fmt.Sprintf(`SELECT %s FROM redemption_codes WHERE code=$1`, codeColumns)
	return fetchCode(r.pool.QueryRow(ctx, query, domain.NormalizeCode(code)))
}

func (r *codeRepository) GetCodeByID(ctx context.Context, id string) (*domain.RedemptionCode, error) {
	query := fmt.Sprintf(`SELECT %s FROM redemption_codes WHERE id=$1`, codeColumns)
	return fetchCode(r.pool.QueryRow(ctx, query, id))
}

func (r *codeRepository) ListCodes(ctx context.Context) ([]domain.RedemptionCode, error) {
	query := fmt.Sprintf(`SELECT %s FROM redemption_codes ORDER BY created_at DESC`, codeColumns)
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.RedemptionCode
	for rows.Next() {
		code, err := scanCode(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *code)
	}
	return result, rows.Err()
}

func (r *codeRepository) UpdateCode(ctx context.Context, code *domain.RedemptionCode) error {
	const query = `
        UPDATE redemption_codes SET description=$1, max_usage=$2, is_active=$3, expires_at=$4, updated_at=NOW()
        WHERE id=$5
        RETURNING code, current_usage, created_by, created_at, updated_at`
	err := r.pool.QueryRow(ctx, query,
		code.Description,
		code.MaxUsage,
		code.IsActive,
		code.ExpiresAt,
		code.ID,
	).Scan(&code.Code, &code.CurrentUsage, &code.CreatedBy, &code.CreatedAt, &code.UpdatedAt)
	if err := translateLookupError(err); errors.Is(err, ErrNotFound) {
		return err
	}
	return translateWriteError(err)
}

func (r *codeRepository) DeleteCode(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM redemption_codes WHERE id=$1`, id)
	if err != nil {
		return translateLookupError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *codeRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM redemption_codes WHERE code=$1)`,
		domain.NormalizeCode(code)).Scan(&exists)
	return exists, err
}

func (r *codeRepository) RedeemCode(ctx context.Context, codeID string, record *domain.RedemptionRecord) (*domain.RedemptionCode, *domain.Grant, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// The row lock taken by the conditional update serializes racing redeemers; losers
	// re-evaluate the predicate and match nothing.
	bump := fmt.Sprintf(`
        UPDATE redemption_codes SET current_usage=current_usage+1, updated_at=NOW()
        WHERE id=$1 AND is_active AND current_usage < max_usage AND (expires_at IS NULL OR expires_at > NOW())
        RETURNING %s`, codeColumns)
	code, err := scanCode(tx.QueryRow(ctx, bump, codeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, r.classifyUnredeemable(ctx, tx, codeID)
		}
		return nil, nil, err
	}

	const insertRecord = `
        INSERT INTO redemption_records (code_id, subject_identity, subject_name, ip_address, user_agent)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, used_at`
	if err := tx.QueryRow(ctx, insertRecord,
		code.ID,
		record.SubjectIdentity,
		record.SubjectName,
		record.IPAddress,
		record.UserAgent,
	).Scan(&record.ID, &record.UsedAt); err != nil {
		return nil, nil, err
	}
	record.CodeID = code.ID
	record.Code = code.Code

	const upsertGrant = `
        INSERT INTO grants (subject_identity, subject_name, source_kind, source_reference, code_id,
            max_usage, is_enabled, enabled_at, granted_by, notes)
        VALUES ($1,$2,'code',$3,$4,$5,TRUE,NOW(),'code','')
        ON CONFLICT (code_id, subject_identity) WHERE source_kind = 'code' DO UPDATE SET
            subject_name=EXCLUDED.subject_name,
            is_enabled=TRUE,
            updated_at=NOW()
        RETURNING id, subject_identity, subject_name, source_kind, source_reference, order_id, code_id,
            is_enabled, enabled_at, disabled_at, granted_by, notes, created_at, updated_at`
	var grant domain.Grant
	if err := tx.QueryRow(ctx, upsertGrant,
		record.SubjectIdentity,
		record.SubjectName,
		code.Code,
		code.ID,
		code.MaxUsage,
	).Scan(
		&grant.ID,
		&grant.SubjectIdentity,
		&grant.SubjectName,
		&grant.SourceKind,
		&grant.SourceReference,
		&grant.OrderID,
		&grant.CodeID,
		&grant.IsEnabled,
		&grant.EnabledAt,
		&grant.DisabledAt,
		&grant.GrantedBy,
		&grant.Notes,
		&grant.CreatedAt,
		&grant.UpdatedAt,
	); err != nil {
		return nil, nil, err
	}
	grant.MaxUsage = code.MaxUsage
	grant.UsageCount = code.CurrentUsage
	grant.ExpiresAt = code.ExpiresAt
	grant.Origin = domain.OriginStore

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return code, &grant, nil
}

func (r *codeRepository) classifyUnredeemable(ctx context.Context, tx pgx.Tx, codeID string) error {
	query := fmt.Sprintf(`SELECT %s FROM redemption_codes WHERE id=$1`, codeColumns)
	code, err := fetchCode(tx.QueryRow(ctx, query, codeID))
	if err != nil {
		return err
	}
	switch {
	case !code.IsActive:
		return ErrCodeInactive
	case code.Expired(time.Now()):
		return ErrCodeExpired
	default:
		return ErrExhausted
	}
}

func (r *codeRepository) ListRedemptions(ctx context.Context, codeID *string) ([]domain.RedemptionRecord, error) {
	query := `
        SELECT r.id, r.code_id, c.code, r.subject_identity, r.subject_name, r.ip_address, r.user_agent, r.used_at
        FROM redemption_records r JOIN redemption_codes c ON c.id = r.code_id`
	args := []any{}
	if codeID != nil {
		if !isUUID(*codeID) {
			return []domain.RedemptionRecord{}, nil
		}
		args = append(args, *codeID)
		query += ` WHERE r.code_id=$1`
	}
	query += ` ORDER BY r.used_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.RedemptionRecord
	for rows.Next() {
		var rec domain.RedemptionRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.CodeID,
			&rec.Code,
			&rec.SubjectIdentity,
			&rec.SubjectName,
			&rec.IPAddress,
			&rec.UserAgent,
			&rec.UsedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (r *codeRepository) CodeStatistics(ctx context.Context, now time.Time) (domain.CodeStatistics, error) {
	const query = `
        SELECT COUNT(*),
               COUNT(*) FILTER (WHERE is_active),
               COUNT(*) FILTER (WHERE NOT is_active),
               COUNT(*) FILTER (WHERE expires_at IS NOT NULL AND expires_at < $1),
               COALESCE(SUM(max_usage), 0),
               COALESCE(SUM(current_usage), 0),
               COUNT(*) FILTER (WHERE created_at >= $2)
        FROM redemption_codes`
	var stats domain.CodeStatistics
	err := r.pool.QueryRow(ctx, query, now, domain.MonthStart(now)).Scan(
		&stats.TotalCodes,
		&stats.ActiveCodes,
		&stats.InactiveCodes,
		&stats.ExpiredCodes,
		&stats.TotalMaxUsage,
		&stats.TotalCurrentUsage,
		&stats.CreatedThisMonth,
	)
	return stats, err
}

func fetchCode(row pgx.Row) (*domain.RedemptionCode, error) {
	code, err := scanCode(row)
	if err != nil {
		return nil, translateLookupError(err)
	}
	return code, nil
}

func scanCode(row pgx.Row) (*domain.RedemptionCode, error) {
	var code domain.RedemptionCode
	if err := row.Scan(
		&code.ID,
		&code.Code,
		&code.Description,
		&code.MaxUsage,
		&code.CurrentUsage,
		&code.IsActive,
		&code.ExpiresAt,
		&code.CreatedBy,
		&code.CreatedAt,
		&code.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &code, nil
}

// translateWriteError maps unique and check violations to ErrConflict.
func translateWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23514":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrConflict)
		}
	}
	return err
}

// translateLookupError maps a missing row, or an id that is not a valid uuid, to
// ErrNotFound.
func translateLookupError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
		return ErrNotFound
	}
	return err
}

func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
