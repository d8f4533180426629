package migrations

import (
	"strings"
	"testing"
)

func TestMigrationsAreOrderedAndUnique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	prev := ""
	for _, m := range Migrations() {
		if m.ID == "" {
			t.Fatal("migration id must not be empty")
		}
		if seen[m.ID] {
			t.Fatalf("duplicate migration id %s", m.ID)
		}
		seen[m.ID] = true
		if strings.Compare(prev, m.ID) >= 0 {
			t.Fatalf("migration %s is out of order after %s", m.ID, prev)
		}
		prev = m.ID
		if m.Migrate == nil || m.Rollback == nil {
			t.Fatalf("migration %s must define Migrate and Rollback", m.ID)
		}
	}
}
