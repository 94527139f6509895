package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// TicketQuery is a filter plus the caller's visibility scope.
type TicketQuery struct {
	domain.TicketFilter
	// QueueOf restricts results to tickets that are unassigned or assigned to
	// this technician.
	QueueOf *string
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	ListWithFilter(ctx context.Context, query TicketQuery) ([]domain.Ticket, error)
	// Patch locks the row, lets fn mutate the ticket and writes it back in one
	// transaction. An error from fn aborts without writing.
	Patch(ctx context.Context, id string, fn func(t *domain.Ticket) error) (*domain.Ticket, error)
	// AppendMessage locks the ticket, runs check, inserts the message and bumps
	// the ticket's version and updated_at in one transaction.
	AppendMessage(ctx context.Context, msg *domain.Message, check func(t domain.Ticket) error) (*domain.Ticket, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, number, title, description, category, priority, status, requester_id,
               assigned_technician_id, applied_solution, time_spent_minutes, satisfaction, notes,
               version, created_at, updated_at, closed_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	return insertTicket(ctx, r.pool, ticket)
}

func insertTicket(ctx context.Context, q querier, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (` + ticketColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`
	_, err := q.Exec(ctx, query,
		ticket.ID,
		ticket.Number,
		ticket.Title,
		ticket.Description,
		ticket.Category,
		ticket.Priority,
		ticket.Status,
		ticket.RequesterID,
		ticket.AssignedTechnicianID,
		ticket.AppliedSolution,
		ticket.TimeSpentMinutes,
		ticket.Satisfaction,
		ticket.Notes,
		ticket.Version,
		ticket.CreatedAt,
		ticket.UpdatedAt,
		ticket.ClosedAt,
	)
	return mapWriteError(err, "ticket")
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return scanTicket(r.pool.QueryRow(ctx, query, id))
}

func (r *ticketRepository) Patch(ctx context.Context, id string, fn func(t *domain.Ticket) error) (*domain.Ticket, error) {
	var out *domain.Ticket
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		ticket, err := lockTicket(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(ticket); err != nil {
			return err
		}
		if err := updateTicket(ctx, tx, ticket); err != nil {
			return err
		}
		out = ticket
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ticketRepository) AppendMessage(ctx context.Context, msg *domain.Message, check func(t domain.Ticket) error) (*domain.Ticket, error) {
	var out *domain.Ticket
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		ticket, err := lockTicket(ctx, tx, msg.TicketID)
		if err != nil {
			return err
		}
		if err := check(*ticket); err != nil {
			return err
		}
		if err := insertMessage(ctx, tx, msg); err != nil {
			return err
		}
		ticket.Version++
		ticket.UpdatedAt = msg.CreatedAt
		if err := updateTicket(ctx, tx, ticket); err != nil {
			return err
		}
		out = ticket
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func lockTicket(ctx context.Context, q querier, id string) (*domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1 FOR UPDATE`
	return scanTicket(q.QueryRow(ctx, query, id))
}

func updateTicket(ctx context.Context, q querier, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET title=$1, description=$2, category=$3, priority=$4, status=$5,
            assigned_technician_id=$6, applied_solution=$7, time_spent_minutes=$8, satisfaction=$9,
            notes=$10, version=$11, updated_at=$12, closed_at=$13
        WHERE id=$14`
	cmd, err := q.Exec(ctx, query,
		ticket.Title,
		ticket.Description,
		ticket.Category,
		ticket.Priority,
		ticket.Status,
		ticket.AssignedTechnicianID,
		ticket.AppliedSolution,
		ticket.TimeSpentMinutes,
		ticket.Satisfaction,
		ticket.Notes,
		ticket.Version,
		ticket.UpdatedAt,
		ticket.ClosedAt,
		ticket.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, q TicketQuery) ([]domain.Ticket, error) {
	base := `SELECT ` + ticketColumns + ` FROM tickets`
	clauses := []string{"1=1"}
	args := []any{}

	if q.RequesterID != nil {
		args = append(args, *q.RequesterID)
		clauses = append(clauses, fmt.Sprintf("requester_id=$%d", len(args)))
	}
	if q.AssignedTechnicianID != nil {
		args = append(args, *q.AssignedTechnicianID)
		clauses = append(clauses, fmt.Sprintf("assigned_technician_id=$%d", len(args)))
	}
	if q.Unassigned {
		clauses = append(clauses, "assigned_technician_id IS NULL")
	}
	if q.QueueOf != nil {
		args = append(args, *q.QueueOf)
		clauses = append(clauses, fmt.Sprintf("(assigned_technician_id IS NULL OR assigned_technician_id=$%d)", len(args)))
	}
	if len(q.Statuses) > 0 {
		placeholders := make([]string, len(q.Statuses))
		for i, status := range q.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(q.Priorities) > 0 {
		placeholders := make([]string, len(q.Priorities))
		for i, pr := range q.Priorities {
			args = append(args, pr)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("priority IN (%s)", strings.Join(placeholders, ",")))
	}
	if term := strings.TrimSpace(q.SearchTerm); term != "" {
		search := "%" + strings.ToLower(term) + "%"
		args = append(args, search)
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(title) LIKE %s OR LOWER(description) LIKE %s)", placeholder, placeholder))
	}

	query := fmt.Sprintf(`%s WHERE %s ORDER BY created_at DESC, number DESC`, base, strings.Join(clauses, " AND "))
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	if q.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", q.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.Number,
		&ticket.Title,
		&ticket.Description,
		&ticket.Category,
		&ticket.Priority,
		&ticket.Status,
		&ticket.RequesterID,
		&ticket.AssignedTechnicianID,
		&ticket.AppliedSolution,
		&ticket.TimeSpentMinutes,
		&ticket.Satisfaction,
		&ticket.Notes,
		&ticket.Version,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ClosedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	result := []domain.Ticket{}
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}
