package ledgerdb

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	"github.com/chainsafe/stake-ledger/pkg/ledgerstore"
	mghelper "github.com/chainsafe/stake-ledger/pkg/pgutil/migrations"
)

// OpenStakesIndex serves the sweep's scan of open stakes.
const OpenStakesIndex = "idx_stakes_open_last_accrued_at"

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("indexing open stakes...")
		return mghelper.CreatePartialModelIndex(ctx, db, &ledgerstore.StakeDao{},
			OpenStakesIndex, "is_active = TRUE", "last_accrued_at")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping open stakes index...")
		return mghelper.DropIndexes(ctx, db, OpenStakesIndex)
	})
}
