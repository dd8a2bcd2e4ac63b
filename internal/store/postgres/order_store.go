package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/catallaxyz/matchd/internal/domain"
	"github.com/catallaxyz/matchd/internal/engine"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Insert stores a new order row. Duplicate hashes are rejected with
// ErrAlreadyExists.
func (s *OrderStore) Insert(ctx context.Context, row domain.OrderRow) error {
	const query = `
		INSERT INTO orders (
			hash, salt, maker, signer, taker, market, token_id,
			maker_amount, taker_amount, expiration, nonce, fee_rate_bps,
			side, price, remaining, status, version, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18
		)
		ON CONFLICT (hash) DO NOTHING`

	o := row.Order
	tag, err := s.pool.Exec(ctx, query,
		row.Hash.Hex(),
		numericString(new(big.Int).SetUint64(o.Salt)),
		o.Maker, o.Signer, o.Taker, o.Market, int16(o.TokenID),
		numericString(o.MakerAmount), numericString(o.TakerAmount),
		o.Expiration, numericString(new(big.Int).SetUint64(o.Nonce)), int32(o.FeeRateBps),
		int16(o.Side), engine.Price(o), numericString(row.Remaining),
		string(row.State), row.Version, row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert order %s: %w", row.Hash.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// NUMERIC columns are cast to TEXT so amounts round-trip through big.Int
// without ever touching a float.
const orderSelectCols = `hash, salt::TEXT, maker, signer, taker, market, token_id,
	maker_amount::TEXT, taker_amount::TEXT, expiration, nonce::TEXT, fee_rate_bps,
	side, remaining::TEXT, status, version, created_at`

func scanOrderRow(scanner interface{ Scan(dest ...any) error }) (domain.OrderRow, error) {
	var row domain.OrderRow
	var hash, salt, makerAmount, takerAmount, nonce, remaining, status string
	var tokenID, side int16
	var feeRateBps int32

	err := scanner.Scan(
		&hash, &salt,
		&row.Order.Maker, &row.Order.Signer, &row.Order.Taker, &row.Order.Market,
		&tokenID, &makerAmount, &takerAmount,
		&row.Order.Expiration, &nonce, &feeRateBps,
		&side, &remaining, &status, &row.Version, &row.CreatedAt,
	)
	if err != nil {
		return domain.OrderRow{}, err
	}

	row.Hash = common.HexToHash(hash)
	row.State = domain.OrderState(status)
	row.Order.TokenID = domain.TokenID(tokenID)
	row.Order.Side = domain.Side(side)
	row.Order.FeeRateBps = uint16(feeRateBps)

	var ok bool
	if row.Order.MakerAmount, ok = new(big.Int).SetString(makerAmount, 10); !ok {
		return domain.OrderRow{}, fmt.Errorf("bad maker_amount %q: %w", makerAmount, domain.ErrDecode)
	}
	if row.Order.TakerAmount, ok = new(big.Int).SetString(takerAmount, 10); !ok {
		return domain.OrderRow{}, fmt.Errorf("bad taker_amount %q: %w", takerAmount, domain.ErrDecode)
	}
	if row.Remaining, ok = new(big.Int).SetString(remaining, 10); !ok {
		return domain.OrderRow{}, fmt.Errorf("bad remaining %q: %w", remaining, domain.ErrDecode)
	}
	if v, ok := new(big.Int).SetString(salt, 10); ok {
		row.Order.Salt = v.Uint64()
	}
	if v, ok := new(big.Int).SetString(nonce, 10); ok {
		row.Order.Nonce = v.Uint64()
	}
	return row, nil
}

// GetByHash retrieves a single order row.
func (s *OrderStore) GetByHash(ctx context.Context, hash common.Hash) (domain.OrderRow, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE hash = $1`, hash.Hex())

	out, err := scanOrderRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OrderRow{}, domain.ErrNotFound
		}
		return domain.OrderRow{}, fmt.Errorf("postgres: get order %s: %w", hash.Hex(), err)
	}
	return out, nil
}

// ListOpenBook returns the live orders on one side of a book, best price
// first: ascending price for sells, descending for buys, creation time
// breaking ties either way.
func (s *OrderStore) ListOpenBook(ctx context.Context, q domain.BookQuery, exclude common.Hash) ([]domain.OrderRow, error) {
	priceOrder := "DESC"
	if q.Side == domain.SideSell {
		priceOrder = "ASC"
	}

	query := `SELECT ` + orderSelectCols + ` FROM orders
		WHERE market = $1 AND token_id = $2 AND side = $3
		  AND status IN ('open', 'partial') AND hash <> $4
		ORDER BY price ` + priceOrder + `, created_at ASC`

	rows, err := s.pool.Query(ctx, query,
		q.Market, int16(q.TokenID), int16(q.Side), exclude.Hex())
	if err != nil {
		return nil, fmt.Errorf("postgres: list open book: %w", err)
	}
	defer rows.Close()

	var out []domain.OrderRow
	for rows.Next() {
		row, err := scanOrderRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan open book: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list open book rows: %w", err)
	}
	return out, nil
}

// ApplyFill applies one fill to both orders through the apply_fill stored
// procedure, which takes row locks and checks both versions atomically.
// When the procedure is unavailable (for example a schema rolled back past
// it), it degrades to sequential versioned updates.
func (s *OrderStore) ApplyFill(ctx context.Context, f domain.FillApplication) error {
	_, err := s.pool.Exec(ctx,
		`SELECT apply_fill($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		f.TakerHash.Hex(), f.MakerHash.Hex(),
		numericString(f.Size), f.Price,
		numericString(f.Fees.TakerFee), numericString(f.Fees.MakerRebate),
		numericString(f.Fees.CreatorFee), numericString(f.Fees.PlatformFee),
		f.TakerVersion, f.MakerVersion,
	)
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "version_conflict") {
		return domain.ErrVersionConflict
	}
	if !isMissingFunction(err) {
		return fmt.Errorf("postgres: apply fill %s/%s: %w",
			f.TakerHash.Hex(), f.MakerHash.Hex(), err)
	}
	return s.applyFillSequential(ctx, f)
}

// applyFillSequential is the degraded path: two independent versioned
// updates plus a fill insert. It preserves the version check per order but
// not atomicity across the pair.
func (s *OrderStore) applyFillSequential(ctx context.Context, f domain.FillApplication) error {
	const update = `
		UPDATE orders SET
			remaining  = remaining - $1::NUMERIC,
			status     = CASE WHEN remaining - $1::NUMERIC <= 0 THEN 'filled' ELSE 'partial' END,
			version    = version + 1,
			updated_at = NOW()
		WHERE hash = $2 AND version = $3
		  AND status IN ('open', 'partial') AND remaining >= $1::NUMERIC`

	for _, side := range []struct {
		hash    common.Hash
		version int64
	}{
		{f.TakerHash, f.TakerVersion},
		{f.MakerHash, f.MakerVersion},
	} {
		tag, err := s.pool.Exec(ctx, update,
			numericString(f.Size), side.hash.Hex(), side.version)
		if err != nil {
			return fmt.Errorf("postgres: apply fill update %s: %w", side.hash.Hex(), err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrVersionConflict
		}
	}

	const insert = `
		INSERT INTO fills (
			taker_hash, maker_hash, size, price,
			taker_fee, maker_rebate, creator_fee, platform_fee
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.pool.Exec(ctx, insert,
		f.TakerHash.Hex(), f.MakerHash.Hex(),
		numericString(f.Size), f.Price,
		numericString(f.Fees.TakerFee), numericString(f.Fees.MakerRebate),
		numericString(f.Fees.CreatorFee), numericString(f.Fees.PlatformFee),
	)
	if err != nil {
		return fmt.Errorf("postgres: record fill %s/%s: %w",
			f.TakerHash.Hex(), f.MakerHash.Hex(), err)
	}
	return nil
}

// isMissingFunction reports a 42883 undefined_function error.
func isMissingFunction(err error) bool {
	return strings.Contains(err.Error(), "42883") ||
		strings.Contains(err.Error(), "does not exist")
}

func numericString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

var _ domain.OrderStore = (*OrderStore)(nil)
