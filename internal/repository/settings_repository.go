package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

const globalSwitchKey = "growth_system_enabled"

type settingsRepository struct {
	pool DB
}

// NewSettingsRepository instantiates the admin settings repository.
func NewSettingsRepository(pool DB) SettingsRepository {
	return &settingsRepository{pool: pool}
}

func (r *settingsRepository) GetGlobalSwitch(ctx context.Context) (bool, error) {
	var enabled bool
	err := r.pool.QueryRow(ctx, `SELECT setting_value FROM admin_settings WHERE setting_key=$1`, globalSwitchKey).Scan(&enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	return enabled, err
}

func (r *settingsRepository) SetGlobalSwitch(ctx context.Context, enabled bool, actor string) error {
	const query = `
        INSERT INTO admin_settings (setting_key, setting_value, updated_by)
        VALUES ($1,$2,$3)
        ON CONFLICT (setting_key) DO UPDATE SET setting_value=EXCLUDED.setting_value,
            updated_by=EXCLUDED.updated_by, updated_at=NOW()`
	_, err := r.pool.Exec(ctx, query, globalSwitchKey, enabled, actor)
	return err
}
