// Package seed provides the dataset used when the remote backend is unavailable.
package seed

import (
	"fmt"
	"time"

	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/domain"
)

// Dataset is a complete local collection.
type Dataset struct {
	Users    []domain.User
	Tickets  []domain.Ticket
	Messages []domain.Message
}

type seedUser struct {
	user     domain.User
	password string
}

func day(d int) time.Time {
	return time.Date(2024, time.January, d, 0, 0, 0, 0, time.UTC)
}

func at(d, h, m int) time.Time {
	return time.Date(2024, time.January, d, h, m, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

var seedUsers = []seedUser{
	{domain.User{ID: "1", Name: "João Silva", Email: "admin@helpdesk.com", Role: domain.RoleAdministrator, Department: "TI", Active: true, CreatedAt: day(1)}, "admin"},
	{domain.User{ID: "2", Name: "Maria Santos", Email: "tecnico1@helpdesk.com", Role: domain.RoleTechnician, Department: "Suporte", Active: true, CreatedAt: day(2)}, "tecnico"},
	{domain.User{ID: "3", Name: "Carlos Oliveira", Email: "tecnico2@helpdesk.com", Role: domain.RoleTechnician, Department: "Suporte", Active: true, CreatedAt: day(3)}, "tecnico"},
	{domain.User{ID: "4", Name: "Ana Costa", Email: "cliente1@empresa.com", Role: domain.RoleRequester, Department: "Vendas", Active: true, CreatedAt: day(4)}, "cliente"},
	{domain.User{ID: "5", Name: "Pedro Lima", Email: "cliente2@empresa.com", Role: domain.RoleRequester, Department: "Marketing", Active: true, CreatedAt: day(5)}, "cliente"},
	{domain.User{ID: "6", Name: "Lucia Ferreira", Email: "cliente3@empresa.com", Role: domain.RoleRequester, Department: "RH", Active: true, CreatedAt: day(6)}, "cliente"},
}

func seedTickets() []domain.Ticket {
	return []domain.Ticket{
		{
			ID: "1", Number: "#2024001",
			Title:       "Problema no sistema de email",
			Description: "Não consigo enviar emails desde ontem. O sistema apresenta erro de conexão.",
			Category:    "Email", Priority: domain.TicketPriorityHigh, Status: domain.TicketStatusOpen,
			RequesterID: "4", Version: 1,
			CreatedAt: at(15, 9, 0), UpdatedAt: at(15, 9, 0),
		},
		{
			ID: "2", Number: "#2024002",
			Title:       "Solicitação de acesso ao sistema financeiro",
			Description: "Preciso de acesso ao módulo financeiro para gerar relatórios mensais.",
			Category:    "Acesso", Priority: domain.TicketPriorityMedium, Status: domain.TicketStatusInProgress,
			RequesterID: "5", AssignedTechnicianID: ptr("2"), Version: 3,
			CreatedAt: at(14, 14, 30), UpdatedAt: at(15, 10, 15),
		},
		{
			ID: "3", Number: "#2024003",
			Title:       "Computador não liga",
			Description: "Meu computador não está ligando desde esta manhã. Já tentei diferentes tomadas.",
			Category:    "Hardware", Priority: domain.TicketPriorityHigh, Status: domain.TicketStatusResolved,
			RequesterID: "6", AssignedTechnicianID: ptr("3"),
			AppliedSolution:  ptr("Fonte de alimentação substituída. Computador funcionando normalmente."),
			TimeSpentMinutes: ptr(180), Satisfaction: ptr(5), Version: 6,
			CreatedAt: at(13, 8, 0), UpdatedAt: at(14, 16, 45), ClosedAt: ptr(at(14, 16, 45)),
		},
		{
			ID: "4", Number: "#2024004",
			Title:       "Lentidão no sistema",
			Description: "O sistema está muito lento, principalmente ao gerar relatórios.",
			Category:    "Performance", Priority: domain.TicketPriorityMedium, Status: domain.TicketStatusOpen,
			RequesterID: "4", Version: 1,
			CreatedAt: at(15, 11, 20), UpdatedAt: at(15, 11, 20),
		},
		{
			ID: "5", Number: "#2024005",
			Title:       "Configuração de impressora",
			Description: "Preciso instalar uma nova impressora na minha estação.",
			Category:    "Instalação", Priority: domain.TicketPriorityLow, Status: domain.TicketStatusInProgress,
			RequesterID: "5", AssignedTechnicianID: ptr("2"), Version: 3,
			CreatedAt: at(12, 16, 0), UpdatedAt: at(14, 9, 30),
		},
	}
}

func seedMessages() []domain.Message {
	return []domain.Message{
		{ID: "m-2-1", TicketID: "2", AuthorID: "2", Body: "Verificando permissões necessárias com o supervisor.", Kind: domain.MessageKindComment, CreatedAt: at(15, 10, 15)},
		{ID: "m-3-1", TicketID: "3", AuthorID: "3", Body: "Realizando diagnóstico no local.", Kind: domain.MessageKindNote, CreatedAt: at(13, 10, 30)},
		{ID: "m-3-2", TicketID: "3", AuthorID: "3", Body: "Problema identificado: fonte queimada. Substituindo.", Kind: domain.MessageKindComment, CreatedAt: at(14, 14, 20)},
		{ID: "m-3-3", TicketID: "3", AuthorID: "3", Body: "Fonte de alimentação substituída. Computador funcionando normalmente.", Kind: domain.MessageKindSolution, CreatedAt: at(14, 16, 45)},
		{ID: "m-5-1", TicketID: "5", AuthorID: "2", Body: "Agendado para instalação amanhã.", Kind: domain.MessageKindComment, CreatedAt: at(14, 9, 30)},
	}
}

// Categories offered when opening a ticket.
var Categories = []string{
	"Email", "Hardware", "Software", "Acesso", "Rede", "Impressora",
	"Instalação", "Performance", "Backup", "Segurança", "Outro",
}

// Load builds the dataset, hashing the demo passwords with the given bcrypt cost.
func Load(cost int) (Dataset, error) {
	ds := Dataset{
		Users:    make([]domain.User, 0, len(seedUsers)),
		Tickets:  seedTickets(),
		Messages: seedMessages(),
	}
	for _, su := range seedUsers {
		hash, err := auth.HashPassword(su.password, cost)
		if err != nil {
			return Dataset{}, fmt.Errorf("hash seed password for %s: %w", su.user.Email, err)
		}
		u := su.user
		u.PasswordHash = hash
		ds.Users = append(ds.Users, u)
	}
	for _, t := range ds.Tickets {
		if err := t.CheckInvariants(); err != nil {
			return Dataset{}, fmt.Errorf("seed ticket %s: %w", t.Number, err)
		}
	}
	return ds, nil
}
