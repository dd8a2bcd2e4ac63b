package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/catallaxyz/matchd/internal/domain"
)

// FeeConfigStore reads the single-row fee configuration table.
type FeeConfigStore struct {
	pool *pgxpool.Pool
}

func NewFeeConfigStore(pool *pgxpool.Pool) *FeeConfigStore {
	return &FeeConfigStore{pool: pool}
}

// Fetch returns the live fee configuration, or ErrNotFound when no row has
// been provisioned. Callers fall back to domain.DefaultFeeConfig.
func (s *FeeConfigStore) Fetch(ctx context.Context) (domain.FeeConfig, error) {
	const query = `
		SELECT platform_share, maker_rebate_share, creator_share,
		       center_rate, extreme_rate
		FROM fee_config WHERE id = 1`

	var cfg domain.FeeConfig
	err := s.pool.QueryRow(ctx, query).Scan(
		&cfg.PlatformShare, &cfg.MakerRebateShare, &cfg.CreatorShare,
		&cfg.CenterRate, &cfg.ExtremeRate,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FeeConfig{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.FeeConfig{}, fmt.Errorf("postgres: fetch fee config: %w", err)
	}
	return cfg, nil
}

var _ domain.FeeConfigSource = (*FeeConfigStore)(nil)
