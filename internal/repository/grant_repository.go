package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/growth-entitlements/internal/domain"
)

// Code grants read their counters and expiry through the code row so every subject that
// redeemed the same code shares one capacity.
const grantColumns = `
        g.id, g.subject_identity, g.subject_name, g.source_kind, g.source_reference, g.order_id, g.code_id,
        CASE WHEN g.source_kind = 'code' THEN COALESCE(c.max_usage, g.max_usage) ELSE g.max_usage END,
        CASE WHEN g.source_kind = 'code' THEN COALESCE(c.current_usage, g.max_usage) ELSE g.usage_count END,
        CASE WHEN g.source_kind = 'code' THEN g.is_enabled AND COALESCE(c.is_active, FALSE) ELSE g.is_enabled END,
        c.expires_at, g.enabled_at, g.disabled_at, g.granted_by, g.notes, g.created_at, g.updated_at`

const grantFrom = `FROM grants g LEFT JOIN redemption_codes c ON c.id = g.code_id`

type grantRepository struct {
	pool DB
}

// GrantStore is the full grant surface of the Entitlement Store.
type GrantStore interface {
	GrantRepository
	GrantAdminRepository
}

// NewGrantRepository instantiates the Postgres-backed grant repository.
func NewGrantRepository(pool DB) GrantStore {
	return &grantRepository{pool: pool}
}

func (r *grantRepository) GetGrantsForSubject(ctx context.Context, identity string) ([]domain.Grant, error) {
	query := fmt.Sprintf(`SELECT %s %s WHERE g.subject_identity=$1 ORDER BY g.created_at ASC`, grantColumns, grantFrom)
	rows, err := r.pool.Query(ctx, query, identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGrants(rows)
}

func (r *grantRepository) GetGrantByOrderNumber(ctx context.Context, number string) (*domain.Grant, error) {
	query := fmt.Sprintf(`SELECT %s %s
        WHERE g.source_kind='order' AND LOWER(g.source_reference)=LOWER($1)
        ORDER BY g.created_at ASC LIMIT 1`, grantColumns, grantFrom)
	return fetchGrant(r.pool.QueryRow(ctx, query, strings.TrimSpace(number)))
}

func (r *grantRepository) GetGrantByCode(ctx context.Context, code, identity string) (*domain.Grant, error) {
	query := fmt.Sprintf(`SELECT %s %s
        WHERE g.source_kind='code' AND g.source_reference=$1 AND g.subject_identity=$2`, grantColumns, grantFrom)
	return fetchGrant(r.pool.QueryRow(ctx, query, domain.NormalizeCode(code), identity))
}

func (r *grantRepository) GetGrantByID(ctx context.Context, id string) (*domain.Grant, error) {
	query := fmt.Sprintf(`SELECT %s %s WHERE g.id=$1`, grantColumns, grantFrom)
	return fetchGrant(r.pool.QueryRow(ctx, query, id))
}

func (r *grantRepository) GetGrantByOrderID(ctx context.Context, orderID int64) (*domain.Grant, error) {
	query := fmt.Sprintf(`SELECT %s %s WHERE g.order_id=$1`, grantColumns, grantFrom)
	return fetchGrant(r.pool.QueryRow(ctx, query, orderID))
}

func (r *grantRepository) UpsertGrant(ctx context.Context, grant *domain.Grant) error {
	var (
		id  string
		err error
	)
	switch grant.SourceKind {
	case domain.SourceOrder:
		if grant.OrderID == nil {
			return fmt.Errorf("order grant without order id: %w", ErrConflict)
		}
		// Re-granting keeps consumed usage and never lowers the maximum below it.
		const query = `
        INSERT INTO grants (subject_identity, subject_name, source_kind, source_reference, order_id,
            max_usage, usage_count, is_enabled, enabled_at, disabled_at, granted_by, notes)
        VALUES ($1,$2,'order',$3,$4,$5,$6,$7,$8,$9,$10,$11)
        ON CONFLICT (order_id) DO UPDATE SET
            subject_identity=EXCLUDED.subject_identity,
            subject_name=EXCLUDED.subject_name,
            source_reference=EXCLUDED.source_reference,
            max_usage=GREATEST(EXCLUDED.max_usage, grants.usage_count),
            is_enabled=EXCLUDED.is_enabled,
            enabled_at=COALESCE(EXCLUDED.enabled_at, grants.enabled_at),
            disabled_at=EXCLUDED.disabled_at,
            granted_by=EXCLUDED.granted_by,
            notes=EXCLUDED.notes,
            updated_at=NOW()
        RETURNING id`
		err = r.pool.QueryRow(ctx, query,
			grant.SubjectIdentity,
			grant.SubjectName,
			grant.SourceReference,
			grant.OrderID,
			grant.MaxUsage,
			grant.UsageCount,
			grant.IsEnabled,
			grant.EnabledAt,
			grant.DisabledAt,
			grant.GrantedBy,
			grant.Notes,
		).Scan(&id)
	case domain.SourceCode:
		if grant.CodeID == nil {
			return fmt.Errorf("code grant without code id: %w", ErrConflict)
		}
		const query = `
        INSERT INTO grants (subject_identity, subject_name, source_kind, source_reference, code_id,
            max_usage, is_enabled, enabled_at, granted_by, notes)
        VALUES ($1,$2,'code',$3,$4,GREATEST($5,1),$6,$7,$8,$9)
        ON CONFLICT (code_id, subject_identity) WHERE source_kind = 'code' DO UPDATE SET
            subject_name=EXCLUDED.subject_name,
            is_enabled=EXCLUDED.is_enabled,
            updated_at=NOW()
        RETURNING id`
		err = r.pool.QueryRow(ctx, query,
			grant.SubjectIdentity,
			grant.SubjectName,
			domain.NormalizeCode(grant.SourceReference),
			grant.CodeID,
			grant.MaxUsage,
			grant.IsEnabled,
			grant.EnabledAt,
			grant.GrantedBy,
			grant.Notes,
		).Scan(&id)
	default:
		return fmt.Errorf("unknown grant source %q: %w", grant.SourceKind, ErrConflict)
	}
	if err != nil {
		return err
	}
	stored, err := r.GetGrantByID(ctx, id)
	if err != nil {
		return err
	}
	*grant = *stored
	return nil
}

func (r *grantRepository) IncrementUsage(ctx context.Context, grantID string) (*domain.Grant, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := fmt.Sprintf(`SELECT %s %s WHERE g.id=$1 FOR UPDATE OF g`, grantColumns, grantFrom)
	grant, err := fetchGrant(tx.QueryRow(ctx, query, grantID))
	if err != nil {
		return nil, err
	}
	if !grant.Contributes(time.Now()) {
		return nil, ErrGrantDisabled
	}

	switch grant.SourceKind {
	case domain.SourceCode:
		if grant.CodeID == nil {
			return nil, ErrGrantDisabled
		}
		const bump = `
        UPDATE redemption_codes SET current_usage=current_usage+1, updated_at=NOW()
        WHERE id=$1 AND is_active AND current_usage < max_usage AND (expires_at IS NULL OR expires_at > NOW())
        RETURNING max_usage, current_usage`
		if err := tx.QueryRow(ctx, bump, *grant.CodeID).Scan(&grant.MaxUsage, &grant.UsageCount); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrExhausted
			}
			return nil, err
		}
		const record = `
        INSERT INTO redemption_records (code_id, subject_identity, subject_name)
        VALUES ($1,$2,$3)`
		if _, err := tx.Exec(ctx, record, *grant.CodeID, grant.SubjectIdentity, grant.SubjectName); err != nil {
			return nil, err
		}
	default:
		const bump = `
        UPDATE grants SET usage_count=usage_count+1, updated_at=NOW()
        WHERE id=$1 AND is_enabled AND usage_count < max_usage
        RETURNING max_usage, usage_count, updated_at`
		if err := tx.QueryRow(ctx, bump, grantID).Scan(&grant.MaxUsage, &grant.UsageCount, &grant.UpdatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrExhausted
			}
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return grant, nil
}

func (r *grantRepository) ListGrants(ctx context.Context, filter GrantFilter) ([]domain.Grant, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.SourceKind != nil {
		args = append(args, *filter.SourceKind)
		clauses = append(clauses, fmt.Sprintf("g.source_kind=$%d", len(args)))
	}
	if filter.SubjectIdentity != nil {
		args = append(args, strings.ToLower(strings.TrimSpace(*filter.SubjectIdentity)))
		clauses = append(clauses, fmt.Sprintf("g.subject_identity=$%d", len(args)))
	}
	if filter.Enabled != nil {
		args = append(args, *filter.Enabled)
		clauses = append(clauses, fmt.Sprintf("g.is_enabled=$%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT %s %s WHERE %s ORDER BY g.created_at DESC LIMIT %d OFFSET %d`,
		grantColumns, grantFrom, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGrants(rows)
}

func (r *grantRepository) SetGrantEnabled(ctx context.Context, id string, enabled bool, actor, note string) (*domain.Grant, error) {
	const query = `
        UPDATE grants SET is_enabled=$2,
            enabled_at=CASE WHEN $2 THEN NOW() ELSE enabled_at END,
            disabled_at=CASE WHEN $2 THEN NULL ELSE NOW() END,
            granted_by=$3,
            notes=CASE WHEN $4 = '' THEN notes ELSE $4 END,
            updated_at=NOW()
        WHERE id=$1`
	cmd, err := r.pool.Exec(ctx, query, id, enabled, actor, note)
	if err != nil {
		return nil, translateLookupError(err)
	}
	if cmd.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return r.GetGrantByID(ctx, id)
}

func (r *grantRepository) GrantStatistics(ctx context.Context, now time.Time) (domain.GrantStatistics, error) {
	const query = `
        SELECT COUNT(*),
               COUNT(*) FILTER (WHERE is_enabled),
               COUNT(*) FILTER (WHERE NOT is_enabled),
               COALESCE(SUM(usage_count), 0),
               COALESCE(SUM(max_usage - usage_count) FILTER (WHERE is_enabled), 0),
               COUNT(*) FILTER (WHERE is_enabled AND enabled_at >= $1)
        FROM grants WHERE source_kind='order'`
	var stats domain.GrantStatistics
	err := r.pool.QueryRow(ctx, query, domain.MonthStart(now)).Scan(
		&stats.TotalOrders,
		&stats.EnabledOrders,
		&stats.DisabledOrders,
		&stats.TotalUsage,
		&stats.RemainingUsage,
		&stats.EnabledThisMonth,
	)
	return stats, err
}

func fetchGrant(row pgx.Row) (*domain.Grant, error) {
	grant, err := scanGrant(row)
	if err != nil {
		return nil, translateLookupError(err)
	}
	return grant, nil
}

func scanGrant(row pgx.Row) (*domain.Grant, error) {
	var grant domain.Grant
	if err := row.Scan(
		&grant.ID,
		&grant.SubjectIdentity,
		&grant.SubjectName,
		&grant.SourceKind,
		&grant.SourceReference,
		&grant.OrderID,
		&grant.CodeID,
		&grant.MaxUsage,
		&grant.UsageCount,
		&grant.IsEnabled,
		&grant.ExpiresAt,
		&grant.EnabledAt,
		&grant.DisabledAt,
		&grant.GrantedBy,
		&grant.Notes,
		&grant.CreatedAt,
		&grant.UpdatedAt,
	); err != nil {
		return nil, err
	}
	grant.Origin = domain.OriginStore
	return &grant, nil
}

func scanGrants(rows pgx.Rows) ([]domain.Grant, error) {
	var result []domain.Grant
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *grant)
	}
	return result, rows.Err()
}
