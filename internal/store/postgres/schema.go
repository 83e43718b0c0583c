package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// migrations are applied in order; each index is its schema version.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id         BIGSERIAL PRIMARY KEY,
		identity   TEXT NOT NULL UNIQUE,
		balance    BIGINT NOT NULL CHECK (balance >= 0),
		blocked    BOOLEAN NOT NULL DEFAULT false,
		strikes    INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS requests (
		id             TEXT PRIMARY KEY,
		account_id     BIGINT NOT NULL REFERENCES accounts(id),
		extracted_text TEXT NOT NULL,
		source         TEXT NOT NULL,
		category       TEXT,
		risk           TEXT,
		sender         TEXT,
		amount         TEXT,
		deadline       TEXT,
		summary        TEXT,
		explanation    TEXT,
		action         TEXT,
		reply          TEXT,
		status         TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'sent')),
		cost           BIGINT NOT NULL CHECK (cost >= 0),
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		sent_at        TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS requests_account_id_idx ON requests (account_id);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id         BIGSERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL REFERENCES accounts(id),
		delta      BIGINT NOT NULL,
		reason     TEXT NOT NULL CHECK (reason IN ('welcome', 'usage', 'manual_topup', 'partner_code')),
		request_id TEXT REFERENCES requests(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS ledger_entries_account_id_idx ON ledger_entries (account_id);`,

	// At most one usage entry per request.
	`CREATE UNIQUE INDEX IF NOT EXISTS ledger_entries_usage_request_idx
		ON ledger_entries (request_id) WHERE reason = 'usage';`,

	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		key             TEXT PRIMARY KEY,
		request_hash    TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'in_progress' CHECK (status IN ('in_progress', 'completed')),
		response_status INT,
		response_body   JSONB,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
}

// Migrate brings the schema up to the latest version. Applied versions are
// tracked in schema_migrations.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.Db.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return eris.Wrap(err, "create schema_migrations")
	}

	for version, ddl := range migrations {
		err := s.inTx(ctx, func(tx pgx.Tx) error {
			// Serialise concurrent migrators.
			if _, err := tx.Exec(ctx, "LOCK TABLE schema_migrations IN EXCLUSIVE MODE"); err != nil {
				return eris.Wrap(err, "lock schema_migrations")
			}
			var applied bool
			err := tx.QueryRow(ctx,
				"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", version,
			).Scan(&applied)
			if err != nil {
				return eris.Wrapf(err, "check migration %d", version)
			}
			if applied {
				return nil
			}
			if _, err := tx.Exec(ctx, ddl); err != nil {
				return eris.Wrapf(err, "apply migration %d", version)
			}
			if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
				return eris.Wrapf(err, "record migration %d", version)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
