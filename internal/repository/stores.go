package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/helixir/screening-workflow-service/internal/database"
)

// Stores bundles every repository bound to the same DBTX, so a unit of work
// sees one consistent transaction.
type Stores struct {
	Reviews     ReviewRepository
	Studies     StudyRepository
	Citations   CitationRepository
	Screenings  ScreeningRepository
	Fulltexts   FulltextRepository
	Extractions DataExtractionRepository
	Dedupes     DedupeRepository
	DedupeRuns  DedupeRunRepository
	Keyterms    KeytermRepository
	Models      ClassifierModelRepository
	Outbox      OutboxRepository
}

// NewPgStores binds the PostgreSQL repositories to db.
func NewPgStores(db DBTX) Stores {
	return Stores{
		Reviews:     NewPgReviewRepository(db),
		Studies:     NewPgStudyRepository(db),
		Citations:   NewPgCitationRepository(db),
		Screenings:  NewPgScreeningRepository(db),
		Fulltexts:   NewPgFulltextRepository(db),
		Extractions: NewPgDataExtractionRepository(db),
		Dedupes:     NewPgDedupeRepository(db),
		DedupeRuns:  NewPgDedupeRunRepository(db),
		Keyterms:    NewPgKeytermRepository(db),
		Models:      NewPgClassifierModelRepository(db),
		Outbox:      NewPgOutboxRepository(db),
	}
}

// Transactor runs a unit of work atomically. fn receives stores bound to the
// transaction; any error rolls every write back.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error

	// Stores returns repositories outside any transaction, for reads.
	Stores() Stores
}

// Compile-time interface verification.
var _ Transactor = (*PgTransactor)(nil)

// PgTransactor implements Transactor on a database.DB.
type PgTransactor struct {
	db *database.DB
}

// NewPgTransactor creates a Transactor backed by the connection pool.
func NewPgTransactor(db *database.DB) *PgTransactor {
	return &PgTransactor{db: db}
}

// InTx runs fn inside a read-committed transaction. Row locks taken by the
// repositories (SELECT ... FOR UPDATE, counter UPDATEs) serialise writers.
func (t *PgTransactor) InTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error {
	return t.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		return fn(ctx, NewPgStores(tx))
	})
}

// Stores returns repositories bound to the pool.
func (t *PgTransactor) Stores() Stores {
	return NewPgStores(t.db)
}
