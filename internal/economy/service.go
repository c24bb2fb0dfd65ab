package economy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Service struct {
	db   *pgxpool.Pool
	log  *slog.Logger
	mu   sync.Mutex
	rand *mathrand.Rand
}

func NewService(db *pgxpool.Pool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:   db,
		log:  logger,
		rand: mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
	}
}

// withSerializableTx runs fn inside a serializable transaction, retrying on
// serialization failures with exponential backoff. Exhausted retries surface
// as ErrTxConflict, which is safe for the caller to retry: nothing committed.
func (s *Service) withSerializableTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return err
		}
		err = func() error {
			defer tx.Rollback(ctx)
			if err := fn(ctx, tx); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			return ErrTxConflict
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return ErrTxConflict
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// claimIdempotency inserts the key inside the mutating transaction so a
// duplicate request can never commit alongside the original.
func claimIdempotency(ctx context.Context, tx pgx.Tx, actorID, key, action string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("idempotency key is required")
	}
	cmd, err := tx.Exec(ctx, `
		INSERT INTO econ.idempotency_keys (actor_id, key, action, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (actor_id, key) DO NOTHING
	`, actorID, key, action)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrDuplicateIdempotency
	}
	return nil
}

func (s *Service) EnsurePlayer(ctx context.Context, actorID, email, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		username = usernameFromEmail(email)
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO users.profiles (user_id, email, username)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, actorID, email, username)
	if err != nil {
		return err
	}
	cmd, err := tx.Exec(ctx, `
		INSERT INTO econ.wallets (actor_id, gold)
		VALUES ($1, $2)
		ON CONFLICT (actor_id) DO NOTHING
	`, actorID, StarterGold)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() > 0 {
		// First contact: starter gold and goods, grant-tagged so the money
		// supply expansion stays auditable.
		if _, err := tx.Exec(ctx, `
			INSERT INTO econ.inventory (actor_id, item_key, location, quantity)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (actor_id, item_key, location) DO NOTHING
		`, actorID, StarterItemKey, LocationWarehouse, StarterItemQty); err != nil {
			return err
		}
		groupID := uuid.NewString()
		if err := insertLedgerEntry(ctx, tx, groupID, actorID, KindAdminGrant, "", "", StarterGold, map[string]any{"reason": "starter_gold"}); err != nil {
			return err
		}
		if err := insertLedgerEntry(ctx, tx, groupID, actorID, KindAdminGrant, StarterItemKey, LocationWarehouse, StarterItemQty, map[string]any{"reason": "starter_goods"}); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// SeedDefaults populates the tradeable goods catalog and a demo mission the
// first time the service starts against an empty database.
func (s *Service) SeedDefaults(ctx context.Context) error {
	var count int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(1) FROM econ.goods`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	seed := []struct {
		Key     string
		Name    string
		Price   int64
		Floor   int64
		Ceiling int64
	}{
		{"iron_ore", "Iron Ore", 5, 1, 50},
		{"timber", "Timber", 3, 1, 30},
		{"salt", "Salt", 8, 2, 80},
		{"spice", "Spice", 24, 5, 240},
		{"silk", "Silk", 40, 8, 400},
		{"amber", "Amber", 55, 10, 550},
		{"wool", "Wool", 4, 1, 40},
		{"copper", "Copper", 9, 2, 90},
		{"grain", "Grain", 2, 1, 20},
		{"wine", "Wine", 15, 3, 150},
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, g := range seed {
		_, err := tx.Exec(ctx, `
			INSERT INTO econ.goods (item_key, display_name, price_gold, anchor_price_gold, floor_gold, ceiling_gold)
			VALUES ($1, $2, $3, $3, $4, $5)
		`, g.Key, g.Name, g.Price, g.Floor, g.Ceiling)
		if err != nil {
			return err
		}
	}

	cfg := MissionConfig{
		Requirements: map[string]int64{"iron_ore": 500, "timber": 300},
		Tiers: []Tier{
			{Name: "bronze", Threshold: 0.25},
			{Name: "silver", Threshold: 0.6},
			{Name: "gold", Threshold: 1.0},
		},
		Rewards: map[string]TierReward{
			"bronze": {Gold: 200},
			"silver": {Gold: 800},
			"gold":   {Gold: 2500, Items: map[string]int64{"spice": 5}},
		},
		TierPolicy:  TierPolicyAggregate,
		SplitPolicy: SplitProportional,
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("seed mission config: %w", err)
	}
	if err := insertMission(ctx, tx, "Fortify the Northern Hub", "construction", cfg, time.Now(), time.Now().Add(7*24*time.Hour)); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *Service) Dashboard(ctx context.Context, actorID string) (Dashboard, error) {
	var out Dashboard
	err := s.db.QueryRow(ctx, `
		SELECT gold FROM econ.wallets WHERE actor_id = $1
	`, actorID).Scan(&out.Gold)
	if err == pgx.ErrNoRows {
		return out, ErrActorUnknown
	}
	if err != nil {
		return out, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT item_key, location, quantity
		FROM econ.inventory
		WHERE actor_id = $1 AND quantity > 0
		ORDER BY item_key, location
	`, actorID)
	if err != nil {
		return out, err
	}
	defer rows.Close()
	for rows.Next() {
		var v InventoryView
		if err := rows.Scan(&v.ItemKey, &v.Location, &v.Quantity); err != nil {
			return out, err
		}
		out.Inventory = append(out.Inventory, v)
	}
	if err := rows.Err(); err != nil {
		return out, err
	}

	lRows, err := s.db.Query(ctx, `
		SELECT tx_group_id, kind, COALESCE(item_key, ''), delta, created_at
		FROM econ.ledger_entries
		WHERE actor_id = $1
		ORDER BY id DESC
		LIMIT 20
	`, actorID)
	if err != nil {
		return out, err
	}
	defer lRows.Close()
	for lRows.Next() {
		var v LedgerView
		if err := lRows.Scan(&v.TxGroupID, &v.Kind, &v.ItemKey, &v.Delta, &v.CreatedAt); err != nil {
			return out, err
		}
		out.Recent = append(out.Recent, v)
	}
	return out, lRows.Err()
}

func (s *Service) nextFloat() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Float64()
}

func usernameFromEmail(email string) string {
	email = strings.TrimSpace(strings.ToLower(email))
	parts := strings.Split(email, "@")
	if len(parts) == 0 || parts[0] == "" {
		return "trader"
	}
	out := make([]rune, 0, len(parts[0]))
	for _, r := range parts[0] {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	res := strings.Trim(string(out), "_")
	if len(res) < 3 {
		res = "trader_" + res
	}
	if len(res) > 24 {
		res = res[:24]
	}
	return res
}
