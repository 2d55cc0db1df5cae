package repo_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/radieske/pix-deposit-service/internal/deposit-service/repo"
	"github.com/radieske/pix-deposit-service/internal/shared/db"
)

func setupTestDB(t *testing.T) *sqlx.DB {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	pg, err := db.ConnectPostgres(dsn)
	if err != nil {
		t.Skipf("db not available: %v", err)
	}
	if err := db.EnsureSchema(context.Background(), pg); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return pg
}

func cleanupTestDB(pg *sqlx.DB) {
	pg.Exec("DELETE FROM wallet_ledger")
	pg.Exec("DELETE FROM wallets")
	pg.Exec("DELETE FROM transactions")
	pg.Exec("DELETE FROM users")
	pg.Close()
}

func createTestUser(t *testing.T, pg *sqlx.DB) string {
	id := uuid.NewString()
	if _, err := pg.Exec(`INSERT INTO users (id, name, email) VALUES ($1,'Teste','teste@bet.local')`, id); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return id
}

func TestPostgresSaveAndUpdateManyInOneTx(t *testing.T) {
	pg := setupTestDB(t)
	defer cleanupTestDB(pg)
	ctx := context.Background()

	store := repo.NewPostgres(pg)
	userID := createTestUser(t, pg)

	big := &repo.Transaction{UserID: userID, Type: repo.TypeDeposit, Amount: decimal.NewFromInt(500),
		Status: repo.StatusPending, PaymentMethod: repo.MethodPIX, ExternalReference: "PIX-" + uuid.NewString()}
	small := &repo.Transaction{UserID: userID, Type: repo.TypeDeposit, Amount: decimal.NewFromInt(35),
		Status: repo.StatusPending, PaymentMethod: repo.MethodPIX, ExternalReference: "PIX-" + uuid.NewString()}
	for _, tx := range []*repo.Transaction{big, small} {
		if err := store.Create(ctx, tx); err != nil {
			t.Fatalf("create: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	err := store.WithinTx(ctx, func(tx repo.Querier) error {
		f := repo.PendingPixDeposits()
		f.UserID = userID
		pending, err := tx.Find(ctx, f, repo.SortAmountDescCreatedDesc)
		if err != nil {
			return err
		}
		if len(pending) != 2 || pending[0].ID != big.ID {
			t.Fatalf("unexpected pending order: %+v", pending)
		}
		cand := pending[0]
		cand.Status = repo.StatusCompleted
		cand.Metadata = cand.Metadata.Merge(repo.Metadata{"reconciliation_applied": true})
		if err := tx.Save(ctx, &cand); err != nil {
			return err
		}
		f.IDs = []string{pending[1].ID}
		n, err := tx.UpdateMany(ctx, f, repo.Patch{Status: repo.StatusCancelled, Metadata: repo.Metadata{"reconciliation_applied": true}})
		if err != nil {
			return err
		}
		if n != 1 {
			t.Fatalf("expected one cancelled, got %d", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("within tx: %v", err)
	}

	w, err := store.GetWallet(ctx, userID)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	if !w.Balance.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected balance 500, got %s", w.Balance)
	}

	hist, total, err := store.ListReconciled(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(hist) != 2 {
		t.Fatalf("expected 2 reconciled rows, got total=%d len=%d", total, len(hist))
	}

	stats, err := store.Stats(ctx, time.Now())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalReconciled != 1 || stats.TotalCancelled != 1 || !stats.TotalCredited.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestPostgresRollbackKeepsPending(t *testing.T) {
	pg := setupTestDB(t)
	defer cleanupTestDB(pg)
	ctx := context.Background()

	store := repo.NewPostgres(pg)
	userID := createTestUser(t, pg)
	d := &repo.Transaction{UserID: userID, Type: repo.TypeDeposit, Amount: decimal.NewFromInt(80),
		Status: repo.StatusPending, PaymentMethod: repo.MethodPIX, ExternalReference: "PIX-" + uuid.NewString()}
	if err := store.Create(ctx, d); err != nil {
		t.Fatalf("create: %v", err)
	}

	boom := errors.New("simulated failure")
	err := store.WithinTx(ctx, func(tx repo.Querier) error {
		d.Status = repo.StatusCompleted
		if err := tx.Save(ctx, d); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, err := store.FindOne(ctx, repo.Filter{ExternalReference: d.ExternalReference}, repo.SortNone)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != repo.StatusPending {
		t.Fatalf("expected PENDING, got %s", got.Status)
	}
	w, err := store.GetWallet(ctx, userID)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	if !w.Balance.IsZero() {
		t.Fatalf("expected zero balance, got %s", w.Balance)
	}
}
