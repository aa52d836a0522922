package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestTxFromContext_Empty(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Errorf("expected nil transaction, got %v", tx)
	}
}

func TestTxFromContext_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), TxKey, "not a tx")
	if tx := TxFromContext(ctx); tx != nil {
		t.Errorf("expected nil transaction for foreign value, got %v", tx)
	}
}

func TestRunInTx_JoinsOuterTransaction(t *testing.T) {
	// A nil pool would panic on BeginTx, so reaching fn proves the outer
	// transaction was reused.
	var outer fakeTx
	ctx := WithTx(context.Background(), &outer)

	called := false
	err := RunInTx(ctx, nil, func(ctx context.Context) error {
		called = true
		if TxFromContext(ctx) != &outer {
			t.Error("expected inner context to carry the outer transaction")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected fn to be called")
	}
}

type fakeTx struct {
	pgx.Tx
}
