package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// TicketHistoryRepository stores audit entries.
type TicketHistoryRepository interface {
	Create(ctx context.Context, history *domain.TicketHistory) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketHistory, error)
}

type ticketHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewTicketHistoryRepository builds repository.
func NewTicketHistoryRepository(pool *pgxpool.Pool) TicketHistoryRepository {
	return &ticketHistoryRepository{pool: pool}
}

func (r *ticketHistoryRepository) Create(ctx context.Context, history *domain.TicketHistory) error {
	const query = `
        INSERT INTO ticket_history (id, ticket_id, changed_by, change, payload, created_at)
        VALUES ($1,$2,$3,$4,$5::jsonb,$6)`
	payload := history.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := r.pool.Exec(ctx, query,
		history.ID,
		history.TicketID,
		history.ChangedByID,
		history.Change,
		string(payload),
		history.CreatedAt,
	)
	return mapWriteError(err, "ticket history")
}

func (r *ticketHistoryRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	const query = `
        SELECT id, ticket_id, changed_by, change, payload::text, created_at
        FROM ticket_history WHERE ticket_id=$1 ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.TicketHistory{}
	for rows.Next() {
		var (
			history domain.TicketHistory
			payload string
		)
		if err := rows.Scan(
			&history.ID,
			&history.TicketID,
			&history.ChangedByID,
			&history.Change,
			&payload,
			&history.CreatedAt,
		); err != nil {
			return nil, err
		}
		history.Payload = []byte(payload)
		result = append(result, history)
	}
	return result, rows.Err()
}
