package ledgerdb

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	"github.com/chainsafe/stake-ledger/pkg/ledgerstore"
	mghelper "github.com/chainsafe/stake-ledger/pkg/pgutil/migrations"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating stakes table...")
		if err := mghelper.CreateSchema(ctx, db, &ledgerstore.StakeDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &ledgerstore.StakeDao{}, "user_id")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping stakes table...")
		return mghelper.DropTables(ctx, db, &ledgerstore.StakeDao{})
	})
}
