package economy

import "time"

type Dashboard struct {
	Gold      int64           `json:"gold"`
	Inventory []InventoryView `json:"inventory"`
	Recent    []LedgerView    `json:"recent_ledger"`
}

type InventoryView struct {
	ItemKey  string   `json:"item_key"`
	Location Location `json:"location"`
	Quantity int64    `json:"quantity"`
}

type LedgerView struct {
	TxGroupID string    `json:"tx_group_id"`
	Kind      string    `json:"kind"`
	ItemKey   string    `json:"item_key,omitempty"`
	Delta     int64     `json:"delta"`
	CreatedAt time.Time `json:"created_at"`
}

type ListingView struct {
	ID        int64     `json:"id"`
	SellerID  string    `json:"seller_id"`
	ItemKey   string    `json:"item_key"`
	Quantity  int64     `json:"quantity"`
	PriceGold int64     `json:"price_gold"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateListingInput struct {
	SellerID       string
	ItemKey        string
	Quantity       int64
	PriceGold      int64
	IdempotencyKey string
}

type BuyInput struct {
	BuyerID        string
	ListingID      int64
	Quantity       int64
	IdempotencyKey string
}

type BuyResult struct {
	Listing   ListingView `json:"listing"`
	PaidGold  int64       `json:"paid_gold"`
	BuyerGold int64       `json:"buyer_gold"`
}

type CancelListingInput struct {
	SellerID       string
	ListingID      int64
	IdempotencyKey string
}

type GoodView struct {
	ItemKey     string `json:"item_key"`
	DisplayName string `json:"display_name"`
	PriceGold   int64  `json:"price_gold"`
}

type PriceTick struct {
	ItemKey   string    `json:"item_key"`
	PriceGold int64     `json:"price_gold"`
	TickAt    time.Time `json:"tick_at"`
}

type MissionView struct {
	ID           int64            `json:"id"`
	Title        string           `json:"title"`
	MissionType  string           `json:"mission_type"`
	Status       string           `json:"status"`
	Requirements map[string]int64 `json:"requirements"`
	Progress     map[string]int64 `json:"progress"`
	Tiers        []Tier           `json:"tiers"`
	ReachedTier  string           `json:"reached_tier,omitempty"`
	StartsAt     time.Time        `json:"starts_at"`
	EndsAt       time.Time        `json:"ends_at"`
}

type ContributeInput struct {
	MissionID      int64
	ActorID        string
	Amounts        map[string]int64
	IdempotencyKey string
}

type ContributeResult struct {
	MissionID     int64            `json:"mission_id"`
	MissionStatus string           `json:"mission_status"`
	Contributed   map[string]int64 `json:"contributed"`
	Progress      map[string]int64 `json:"progress"`
}

// SettleInput carries no idempotency key: settle is idempotent through the
// mission status CAS, and the worker re-settles freely.
type SettleInput struct {
	MissionID int64
}

type SettleResult struct {
	MissionID      int64  `json:"mission_id"`
	ReachedTier    string `json:"reached_tier"`
	Participants   int64  `json:"participants"`
	GoldPaid       int64  `json:"gold_paid"`
	AlreadySettled bool   `json:"already_settled"`
}

type RankingRow struct {
	MissionID int64  `json:"mission_id"`
	ActorID   string `json:"actor_id"`
	Username  string `json:"username"`
	Rank      int64  `json:"rank"`
	Score     int64  `json:"score"`
}
