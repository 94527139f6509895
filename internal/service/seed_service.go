package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/seed"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

// SeedDependencies bundles repositories for SeedDemoData.
type SeedDependencies struct {
	UserRepo     repository.UserRepository
	TicketRepo   repository.TicketRepository
	MessageRepo  repository.TicketMessageRepository
	PasswordCost int
	Logger       *zap.Logger
}

// SeedDemoData inserts the demo users, tickets and messages the desk ships
// with. Rows that already exist are left alone, so it is safe on every start.
func SeedDemoData(ctx context.Context, deps SeedDependencies) error {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ds, err := seed.Load(deps.PasswordCost)
	if err != nil {
		return err
	}

	for i := range ds.Users {
		if err := skipExisting(deps.UserRepo.Create(ctx, &ds.Users[i])); err != nil {
			return fmt.Errorf("seed user %s: %w", ds.Users[i].Email, err)
		}
	}
	for i := range ds.Tickets {
		if err := skipExisting(deps.TicketRepo.Create(ctx, &ds.Tickets[i])); err != nil {
			return fmt.Errorf("seed ticket %s: %w", ds.Tickets[i].Number, err)
		}
	}
	for i := range ds.Messages {
		if err := skipExisting(deps.MessageRepo.Create(ctx, &ds.Messages[i])); err != nil {
			return fmt.Errorf("seed message %s: %w", ds.Messages[i].ID, err)
		}
	}
	logger.Info("demo data seeded",
		zap.Int("users", len(ds.Users)),
		zap.Int("tickets", len(ds.Tickets)),
		zap.Int("messages", len(ds.Messages)))
	return nil
}

func skipExisting(err error) error {
	if apperrors.HasCode(err, apperrors.CodeConflict) {
		return nil
	}
	return err
}
