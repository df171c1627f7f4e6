package repository

type postgresStore struct {
	GrantStore
	CodeRepository
	SettingsRepository
	AuditRepository
}

// NewPostgresStore bundles the Postgres repositories into a Store.
func NewPostgresStore(pool DB) Store {
	return &postgresStore{
		GrantStore:         NewGrantRepository(pool),
		CodeRepository:     NewCodeRepository(pool),
		SettingsRepository: NewSettingsRepository(pool),
		AuditRepository:    NewAuditRepository(pool),
	}
}
