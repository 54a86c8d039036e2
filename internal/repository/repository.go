// Package repository provides data access interfaces and PostgreSQL
// implementations for the screening workflow service.
//
// # Repository Interfaces
//
//   - ReviewRepository: review rows and their aggregate counters
//   - StudyRepository / CitationRepository: studies, their status tuple and bibliographic metadata
//   - ScreeningRepository: reviewer decisions
//   - FulltextRepository / DataExtractionRepository: stage artifacts created by cascades
//   - DedupeRepository / DedupeRunRepository: duplicate rows and the run ledger
//   - KeytermRepository / ClassifierModelRepository: ranking inputs
//   - OutboxRepository: the transactional task and event queue
//
// # Error Handling
//
// Methods return errors from the domain package. pgx.ErrNoRows becomes a
// *domain.NotFoundError and unique violations become a *domain.ConflictError.
//
// # Transactions
//
// Every implementation accepts a DBTX, so the same repository type works on
// the pool or inside a pgx.Tx obtained from database.DB.WithTransaction:
//
//	err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
//	    studies := repository.NewPgStudyRepository(tx)
//	    study, err := studies.GetForUpdate(ctx, studyID)
//	    ...
//	})
package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/screening-workflow-service/internal/database"
)

// DBTX is the database interface supporting both pool and transaction contexts.
type DBTX = database.DBTX

// PostgreSQL error codes used for constraint violation detection.
const (
	pgUniqueViolation     = "23505" // unique_violation
	pgForeignKeyViolation = "23503" // foreign_key_violation
)

// isPgUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

// isPgForeignKeyViolation checks if the error is a PostgreSQL foreign key violation.
func isPgForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgForeignKeyViolation
	}
	return false
}

// nonNil returns s, or an empty slice when s is nil, so array columns are
// never written as NULL.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
