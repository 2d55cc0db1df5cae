package reconcile

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/pix-deposit-service/internal/deposit-service/repo"
)

func tx(id, amount string, created time.Time) repo.Transaction {
	return repo.Transaction{ID: id, Amount: decimal.RequireFromString(amount), CreatedAt: created}
}

func TestSelectCandidate(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		pending  []repo.Transaction
		wantID   string
		siblings int
	}{
		{
			name:     "single deposit",
			pending:  []repo.Transaction{tx("a", "35", base)},
			wantID:   "a",
			siblings: 0,
		},
		{
			name: "largest amount wins regardless of order",
			pending: []repo.Transaction{
				tx("small", "35", base.Add(3*time.Minute)),
				tx("big", "500", base),
				tx("mid", "120.50", base.Add(time.Minute)),
			},
			wantID:   "big",
			siblings: 2,
		},
		{
			name: "tie on amount picks most recent",
			pending: []repo.Transaction{
				tx("older", "200", base),
				tx("newer", "200", base.Add(time.Second)),
				tx("low", "50", base.Add(time.Hour)),
			},
			wantID:   "newer",
			siblings: 2,
		},
		{
			name: "decimal scale does not matter",
			pending: []repo.Transaction{
				tx("a", "100.00", base),
				tx("b", "100.01", base.Add(-time.Hour)),
			},
			wantID:   "b",
			siblings: 1,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cand, sib, ok := SelectCandidate(tc.pending)
			if !ok {
				t.Fatalf("expected a candidate")
			}
			if cand.ID != tc.wantID {
				t.Fatalf("expected %s, got %s", tc.wantID, cand.ID)
			}
			if len(sib) != tc.siblings {
				t.Fatalf("expected %d siblings, got %d", tc.siblings, len(sib))
			}
			for _, s := range sib {
				if s.ID == cand.ID {
					t.Fatalf("candidate %s listed among siblings", cand.ID)
				}
			}
		})
	}
}

func TestSelectCandidateEmpty(t *testing.T) {
	if _, _, ok := SelectCandidate(nil); ok {
		t.Fatalf("expected ok=false for empty input")
	}
}

func TestSelectCandidateDoesNotReorderInput(t *testing.T) {
	base := time.Now()
	in := []repo.Transaction{tx("a", "10", base), tx("b", "90", base)}
	SelectCandidate(in)
	if in[0].ID != "a" || in[1].ID != "b" {
		t.Fatalf("input slice was reordered: %v %v", in[0].ID, in[1].ID)
	}
}
