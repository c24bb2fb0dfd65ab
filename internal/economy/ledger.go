package economy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
)

type Resource string

const (
	ResourceGold Resource = "gold"
	ResourceItem Resource = "item"
)

// Ledger entry kinds. Reward and grant kinds are the only two allowed to
// create gold out of nothing; everything else must conserve value within its
// transaction group.
const (
	KindAuctionEscrow     = "auction_escrow"
	KindAuctionRelease    = "auction_release"
	KindAuctionTrade      = "auction_trade"
	KindMissionContribute = "mission_contribute"
	KindMissionReward     = "mission_reward"
	KindAdminGrant        = "admin_grant"
)

func mintKind(kind string) bool {
	return kind == KindMissionReward || kind == KindAdminGrant
}

// Step is one signed mutation of a wallet or an inventory slot.
type Step struct {
	ActorID  string
	Kind     string
	Resource Resource
	ItemKey  string
	Location Location
	Delta    int64
	Meta     map[string]any
}

func GoldStep(actorID, kind string, delta int64) Step {
	return Step{ActorID: actorID, Kind: kind, Resource: ResourceGold, Delta: delta}
}

func ItemStep(actorID, kind, itemKey string, loc Location, delta int64) Step {
	return Step{ActorID: actorID, Kind: kind, Resource: ResourceItem, ItemKey: itemKey, Location: loc, Delta: delta}
}

type rowKey struct {
	actorID string
	itemKey string
	loc     Location
}

func validateSteps(steps []Step) error {
	if len(steps) == 0 {
		return fmt.Errorf("no steps")
	}
	var goldNet int64
	for _, st := range steps {
		if st.ActorID == "" {
			return fmt.Errorf("step missing actor")
		}
		if st.Delta == 0 {
			return fmt.Errorf("step delta must be non-zero")
		}
		switch st.Resource {
		case ResourceGold:
			if st.ItemKey != "" || st.Location != "" {
				return fmt.Errorf("gold step must not carry item fields")
			}
			if !mintKind(st.Kind) {
				goldNet += st.Delta
			}
		case ResourceItem:
			if err := ValidateItemKey(st.ItemKey); err != nil {
				return err
			}
			if !ValidLocation(st.Location) {
				return fmt.Errorf("invalid location %q", st.Location)
			}
		default:
			return fmt.Errorf("unknown resource %q", st.Resource)
		}
	}
	// Conservation: non-mint gold movement nets to zero, so a buyer's debit
	// always has a matching credit in the same group.
	if goldNet != 0 {
		return fmt.Errorf("gold steps must net to zero, got %+d", goldNet)
	}
	return nil
}

// netByRow folds the step list into one net delta per locked row, and returns
// the row keys in the stable (actor, item, location) lock order.
func netByRow(steps []Step) (map[rowKey]int64, []rowKey) {
	nets := make(map[rowKey]int64, len(steps))
	for _, st := range steps {
		k := rowKey{actorID: st.ActorID}
		if st.Resource == ResourceItem {
			k.itemKey = st.ItemKey
			k.loc = st.Location
		}
		nets[k] += st.Delta
	}
	keys := make([]rowKey, 0, len(nets))
	for k := range nets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.actorID != b.actorID {
			return a.actorID < b.actorID
		}
		if a.itemKey != b.itemKey {
			return a.itemKey < b.itemKey
		}
		return a.loc < b.loc
	})
	return nets, keys
}

// applySteps executes every step or none. Rows are locked FOR UPDATE in
// ascending key order to keep concurrent transfers from inverting lock order.
// The caller owns the transaction; any error here must abort it.
func applySteps(ctx context.Context, tx pgx.Tx, txGroupID string, steps []Step) error {
	if err := validateSteps(steps); err != nil {
		return err
	}
	nets, keys := netByRow(steps)

	for _, k := range keys {
		net := nets[k]
		if k.itemKey == "" {
			var gold int64
			err := tx.QueryRow(ctx, `
				SELECT gold FROM econ.wallets WHERE actor_id = $1 FOR UPDATE
			`, k.actorID).Scan(&gold)
			if err == pgx.ErrNoRows {
				return ErrActorUnknown
			}
			if err != nil {
				return err
			}
			if gold+net < 0 {
				return ErrInsufficientFunds
			}
			if _, err := tx.Exec(ctx, `
				UPDATE econ.wallets SET gold = gold + $1, updated_at = now() WHERE actor_id = $2
			`, net, k.actorID); err != nil {
				return err
			}
			continue
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO econ.inventory (actor_id, item_key, location, quantity)
			VALUES ($1, $2, $3, 0)
			ON CONFLICT (actor_id, item_key, location) DO NOTHING
		`, k.actorID, k.itemKey, k.loc); err != nil {
			return err
		}
		var qty int64
		if err := tx.QueryRow(ctx, `
			SELECT quantity FROM econ.inventory
			WHERE actor_id = $1 AND item_key = $2 AND location = $3
			FOR UPDATE
		`, k.actorID, k.itemKey, k.loc).Scan(&qty); err != nil {
			return err
		}
		if qty+net < 0 {
			return ErrInsufficientInventory
		}
		if _, err := tx.Exec(ctx, `
			UPDATE econ.inventory SET quantity = quantity + $1, updated_at = now()
			WHERE actor_id = $2 AND item_key = $3 AND location = $4
		`, net, k.actorID, k.itemKey, k.loc); err != nil {
			return err
		}
	}

	for _, st := range steps {
		if err := insertLedgerEntry(ctx, tx, txGroupID, st.ActorID, st.Kind, st.ItemKey, st.Location, st.Delta, st.Meta); err != nil {
			return err
		}
	}
	return nil
}

func insertLedgerEntry(ctx context.Context, tx pgx.Tx, txGroupID, actorID, kind, itemKey string, loc Location, delta int64, meta map[string]any) error {
	var metaJSON []byte
	if meta != nil {
		var err error
		metaJSON, err = json.Marshal(meta)
		if err != nil {
			return err
		}
	} else {
		metaJSON = []byte("{}")
	}
	var item, location any
	if itemKey != "" {
		item = itemKey
		location = string(loc)
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO econ.ledger_entries (tx_group_id, actor_id, kind, item_key, location, delta, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
	`, txGroupID, actorID, kind, item, location, delta, string(metaJSON))
	return err
}
