package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// TicketMessageRepository manages ticket thread messages. Appends that must
// move the ticket version go through TicketRepository.AppendMessage.
type TicketMessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.Message, error)
}

type ticketMessageRepository struct {
	pool *pgxpool.Pool
}

// NewTicketMessageRepository builds repository.
func NewTicketMessageRepository(pool *pgxpool.Pool) TicketMessageRepository {
	return &ticketMessageRepository{pool: pool}
}

func (r *ticketMessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	return insertMessage(ctx, r.pool, msg)
}

func insertMessage(ctx context.Context, q querier, msg *domain.Message) error {
	const query = `
        INSERT INTO ticket_messages (id, ticket_id, author_id, kind, body, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := q.Exec(ctx, query,
		msg.ID,
		msg.TicketID,
		msg.AuthorID,
		msg.Kind,
		msg.Body,
		msg.CreatedAt,
	)
	return mapWriteError(err, "message")
}

func (r *ticketMessageRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.Message, error) {
	const query = `
        SELECT id, ticket_id, author_id, kind, body, created_at
        FROM ticket_messages WHERE ticket_id=$1 ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.TicketID,
			&msg.AuthorID,
			&msg.Kind,
			&msg.Body,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}
