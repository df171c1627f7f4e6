package repository

import (
	"context"

	"github.com/spec-kit/growth-entitlements/internal/domain"
)

type auditRepository struct {
	pool DB
}

// NewAuditRepository instantiates the usage audit repository.
func NewAuditRepository(pool DB) AuditRepository {
	return &auditRepository{pool: pool}
}

func (r *auditRepository) RecordUsageAttempt(ctx context.Context, attempt domain.UsageAttempt) error {
	const query = `
        INSERT INTO usage_audit (subject_identity, device_id, grant_id, outcome, remaining)
        VALUES ($1,$2,$3,$4,$5)`
	_, err := r.pool.Exec(ctx, query,
		attempt.SubjectIdentity,
		attempt.DeviceID,
		attempt.GrantID,
		attempt.Outcome,
		attempt.Remaining,
	)
	return err
}
