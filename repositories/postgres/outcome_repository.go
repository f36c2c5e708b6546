package postgres

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/upb/provider-orchestrator/models"
	"github.com/upb/provider-orchestrator/repositories"
)

// maxListLimit caps ListRecent page sizes
const maxListLimit = 1000

// OutcomeRepository implements repositories.OutcomeRepository
type OutcomeRepository struct {
	db     *DB
	tm     *TransactionManager
	logger *zap.Logger
}

// NewOutcomeRepository creates a new outcome repository
func NewOutcomeRepository(db *DB, logger *zap.Logger) repositories.OutcomeRepository {
	return &OutcomeRepository{
		db:     db,
		tm:     NewTransactionManager(db, logger),
		logger: logger,
	}
}

// Create inserts one outcome
func (r *OutcomeRepository) Create(ctx context.Context, outcome *models.ProviderOutcome) error {
	query := `
		INSERT INTO provider_outcomes (id, provider_id, success, response_time_ms, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		outcome.ID,
		outcome.ProviderID,
		outcome.Success,
		outcome.ResponseTimeMs,
		outcome.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert provider outcome: %w", err)
	}

	return nil
}

// CreateBatch inserts outcomes in a single transaction
func (r *OutcomeRepository) CreateBatch(ctx context.Context, outcomes []*models.ProviderOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	err := r.tm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		for _, o := range outcomes {
			if err := r.Create(ctx, o); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Debug("provider outcomes inserted", zap.Int("count", len(outcomes)))
	return nil
}

// ListRecent returns the newest outcomes of a provider, newest first
func (r *OutcomeRepository) ListRecent(ctx context.Context, providerID string, limit int) ([]*models.ProviderOutcome, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	query := `
		SELECT id, provider_id, success, response_time_ms, recorded_at
		FROM provider_outcomes
		WHERE provider_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, providerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []*models.ProviderOutcome
	for rows.Next() {
		o := &models.ProviderOutcome{}
		if err := rows.Scan(&o.ID, &o.ProviderID, &o.Success, &o.ResponseTimeMs, &o.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan provider outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate provider outcomes: %w", err)
	}

	return outcomes, nil
}
