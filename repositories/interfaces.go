package repositories

import (
	"context"

	"github.com/upb/provider-orchestrator/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// OutcomeRepository persists reported provider call outcomes
type OutcomeRepository interface {
	// Create inserts one outcome
	Create(ctx context.Context, outcome *models.ProviderOutcome) error

	// CreateBatch inserts outcomes atomically
	CreateBatch(ctx context.Context, outcomes []*models.ProviderOutcome) error

	// ListRecent returns the newest outcomes of a provider, newest first
	ListRecent(ctx context.Context, providerID string, limit int) ([]*models.ProviderOutcome, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Outcomes OutcomeRepository
}
