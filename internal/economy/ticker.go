package economy

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// RunPriceTick advances every good's simulated price one step and appends a
// price tick per good. Prices mean-revert toward a slowly drifting anchor and
// are clamped to the good's floor and ceiling. The ticker reads no player
// state; the series is display-only and never feeds auction settlement.
func (s *Service) RunPriceTick(ctx context.Context, volatility string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	params := volatilityParams(volatility)
	regime, err := currentRegimeTx(ctx, tx)
	if err != nil {
		return err
	}
	if s.nextFloat() < params.RegimeSwitchProb {
		regime = randomRegime(s.nextFloat())
		if _, err := tx.Exec(ctx, `
			INSERT INTO econ.market_state (singleton, regime, updated_at)
			VALUES (true, $1, now())
			ON CONFLICT (singleton) DO UPDATE SET regime = $1, updated_at = now()
		`, regime); err != nil {
			return err
		}
	}

	rows, err := tx.Query(ctx, `
		SELECT item_key, price_gold, anchor_price_gold, floor_gold, ceiling_gold
		FROM econ.goods
		FOR UPDATE
	`)
	if err != nil {
		return err
	}
	type good struct {
		key     string
		price   int64
		anchor  int64
		floor   int64
		ceiling int64
	}
	var goods []good
	for rows.Next() {
		var g good
		if err := rows.Scan(&g.key, &g.price, &g.anchor, &g.floor, &g.ceiling); err != nil {
			rows.Close()
			return err
		}
		goods = append(goods, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, g := range goods {
		anchorRet := (0.30 * regimeDrift(regime)) + params.AnchorNoiseScale*normalish(s.nextFloat())
		nextAnchor := clampGold(evolvePrice(g.anchor, anchorRet, params.MaxDropPerTick), g.floor, g.ceiling)

		ret := regimeDrift(regime) + params.NoiseScale*normalish(s.nextFloat()) + meanReversion(g.price, g.anchor, params.MeanReversion)
		if s.nextFloat() < params.ShockProb {
			ret += signedShock(s.nextFloat(), s.nextFloat(), params.ShockScale)
		}
		next := clampGold(evolvePrice(g.price, ret, params.MaxDropPerTick), g.floor, g.ceiling)

		if _, err := tx.Exec(ctx, `
			UPDATE econ.goods
			SET price_gold = $1, anchor_price_gold = $2, updated_at = now()
			WHERE item_key = $3
		`, next, nextAnchor, g.key); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO econ.price_ticks (item_key, price_gold, tick_at)
			VALUES ($1, $2, now())
		`, g.key, next); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// PriceTicks returns the tick series for one good ascending by time, starting
// after the optional cursor, capped at one page so callers can restart from
// the last timestamp they saw.
func (s *Service) PriceTicks(ctx context.Context, itemKey string, since time.Time) ([]PriceTick, error) {
	if err := ValidateItemKey(itemKey); err != nil {
		return nil, err
	}
	var exists bool
	if err := s.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM econ.goods WHERE item_key = $1)
	`, itemKey).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrGoodNotFound
	}

	rows, err := s.db.Query(ctx, `
		SELECT item_key, price_gold, tick_at
		FROM econ.price_ticks
		WHERE item_key = $1 AND tick_at > $2
		ORDER BY tick_at, id
		LIMIT $3
	`, itemKey, since, PriceTicksPageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]PriceTick, 0)
	for rows.Next() {
		var t PriceTick
		if err := rows.Scan(&t.ItemKey, &t.PriceGold, &t.TickAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Service) ListGoods(ctx context.Context) ([]GoodView, error) {
	rows, err := s.db.Query(ctx, `
		SELECT item_key, display_name, price_gold
		FROM econ.goods
		ORDER BY item_key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]GoodView, 0)
	for rows.Next() {
		var g GoodView
		if err := rows.Scan(&g.ItemKey, &g.DisplayName, &g.PriceGold); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func currentRegimeTx(ctx context.Context, tx pgx.Tx) (string, error) {
	var regime string
	err := tx.QueryRow(ctx, `
		SELECT regime FROM econ.market_state WHERE singleton
	`).Scan(&regime)
	if err == nil {
		return regime, nil
	}
	if err != pgx.ErrNoRows {
		return "", err
	}
	regime = "neutral"
	_, err = tx.Exec(ctx, `
		INSERT INTO econ.market_state (singleton, regime, updated_at)
		VALUES (true, $1, now())
	`, regime)
	return regime, err
}

func randomRegime(seed float64) string {
	switch {
	case seed < 0.33:
		return "bear"
	case seed < 0.66:
		return "neutral"
	default:
		return "bull"
	}
}

func regimeDrift(regime string) float64 {
	switch regime {
	case "bull":
		return 0.006
	case "bear":
		return -0.006
	default:
		return 0.0
	}
}

func meanReversion(price, anchor int64, strength float64) float64 {
	if anchor <= 0 {
		return 0
	}
	return strength * (float64(anchor-price) / float64(anchor))
}

func normalish(seed float64) float64 {
	return seed + seed - 1
}

func signedShock(magSeed, signSeed, base float64) float64 {
	mag := base * (0.35 + 2.8*magSeed*magSeed)
	if signSeed < 0.5 {
		return -mag
	}
	return mag
}

func evolvePrice(priceGold int64, ret, maxDropPerTick float64) int64 {
	if priceGold <= 0 {
		return 1
	}
	// Bound only the downside; upside is handled by the ceiling clamp.
	if ret < -maxDropPerTick {
		ret = -maxDropPerTick
	}
	next := int64(math.Round(float64(priceGold) * math.Exp(ret)))
	if next < 1 {
		next = 1
	}
	return next
}

func clampGold(v, floor, ceiling int64) int64 {
	if floor > 0 && v < floor {
		return floor
	}
	if ceiling > 0 && v > ceiling {
		return ceiling
	}
	return v
}

type tickDynamics struct {
	NoiseScale       float64
	ShockProb        float64
	ShockScale       float64
	MeanReversion    float64
	AnchorNoiseScale float64
	RegimeSwitchProb float64
	MaxDropPerTick   float64
}

func volatilityParams(mode string) tickDynamics {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "calm":
		return tickDynamics{
			NoiseScale:       0.015,
			ShockProb:        0.04,
			ShockScale:       0.08,
			MeanReversion:    0.05,
			AnchorNoiseScale: 0.010,
			RegimeSwitchProb: 0.03,
			MaxDropPerTick:   1.00,
		}
	case "wild":
		return tickDynamics{
			NoiseScale:       0.055,
			ShockProb:        0.16,
			ShockScale:       0.22,
			MeanReversion:    0.012,
			AnchorNoiseScale: 0.035,
			RegimeSwitchProb: 0.10,
			MaxDropPerTick:   2.40,
		}
	default:
		return tickDynamics{
			NoiseScale:       0.032,
			ShockProb:        0.09,
			ShockScale:       0.13,
			MeanReversion:    0.025,
			AnchorNoiseScale: 0.020,
			RegimeSwitchProb: 0.06,
			MaxDropPerTick:   1.80,
		}
	}
}
