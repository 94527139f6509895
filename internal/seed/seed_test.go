package seed

import (
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/helpdesk/internal/domain"
)

func TestLoadIsConsistent(t *testing.T) {
	ds, err := Load(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	users := map[string]domain.User{}
	for _, u := range ds.Users {
		users[u.ID] = u
	}
	roles := map[domain.Role]int{}
	for _, u := range ds.Users {
		roles[u.Role]++
	}
	if roles[domain.RoleAdministrator] != 1 || roles[domain.RoleTechnician] != 2 || roles[domain.RoleRequester] != 3 {
		t.Fatalf("unexpected role mix: %v", roles)
	}

	numbers := map[string]bool{}
	for _, tk := range ds.Tickets {
		if numbers[tk.Number] {
			t.Fatalf("duplicate number %s", tk.Number)
		}
		numbers[tk.Number] = true
		if _, _, ok := domain.ParseTicketNumber(tk.Number); !ok {
			t.Fatalf("bad number %s", tk.Number)
		}
		if users[tk.RequesterID].Role != domain.RoleRequester {
			t.Fatalf("ticket %s requested by non-requester", tk.Number)
		}
		if tk.AssignedTechnicianID != nil && users[*tk.AssignedTechnicianID].Role != domain.RoleTechnician {
			t.Fatalf("ticket %s assigned to non-technician", tk.Number)
		}
	}
	for _, m := range ds.Messages {
		if !numbers["#202400"+m.TicketID] {
			t.Fatalf("message %s points at unknown ticket %s", m.ID, m.TicketID)
		}
	}
}

func TestSeedPasswordsVerify(t *testing.T) {
	ds, err := Load(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	admin := ds.Users[0]
	if bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte("admin")) != nil {
		t.Fatalf("admin demo password does not verify")
	}
}
