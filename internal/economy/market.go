package economy

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateListing moves the quantity from the seller's warehouse into escrow and
// publishes the listing. While the listing is active, the escrowed quantity
// backs it in full.
func (s *Service) CreateListing(ctx context.Context, in CreateListingInput) (ListingView, error) {
	var out ListingView
	if err := ValidateItemKey(in.ItemKey); err != nil {
		return out, err
	}
	if in.Quantity <= 0 {
		return out, validationf("quantity must be > 0")
	}
	if in.PriceGold <= 0 {
		return out, validationf("price must be > 0")
	}

	err := s.withSerializableTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, in.SellerID, in.IdempotencyKey, "create_listing"); err != nil {
			return err
		}
		groupID := uuid.NewString()
		steps := []Step{
			ItemStep(in.SellerID, KindAuctionEscrow, in.ItemKey, LocationWarehouse, -in.Quantity),
			ItemStep(in.SellerID, KindAuctionEscrow, in.ItemKey, LocationEscrow, in.Quantity),
		}
		if err := applySteps(ctx, tx, groupID, steps); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, `
			INSERT INTO econ.listings (seller_id, item_key, quantity, price_gold, status)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at
		`, in.SellerID, in.ItemKey, in.Quantity, in.PriceGold, ListingActive).Scan(&out.ID, &out.CreatedAt); err != nil {
			return err
		}
		out.SellerID = in.SellerID
		out.ItemKey = in.ItemKey
		out.Quantity = in.Quantity
		out.PriceGold = in.PriceGold
		out.Status = ListingActive
		return nil
	})
	return out, err
}

// Buy fills up to the listed quantity. The listing row lock is taken before
// any balance row so that the availability check and the escrow release can
// never race another buyer.
func (s *Service) Buy(ctx context.Context, in BuyInput) (BuyResult, error) {
	var out BuyResult
	if in.Quantity <= 0 {
		return out, validationf("quantity must be > 0")
	}

	err := s.withSerializableTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, in.BuyerID, in.IdempotencyKey, "buy_listing"); err != nil {
			return err
		}

		var (
			sellerID string
			itemKey  string
			qty      int64
			price    int64
			status   string
		)
		err := tx.QueryRow(ctx, `
			SELECT seller_id, item_key, quantity, price_gold, status
			FROM econ.listings
			WHERE id = $1
			FOR UPDATE
		`, in.ListingID).Scan(&sellerID, &itemKey, &qty, &price, &status)
		if err == pgx.ErrNoRows {
			return ErrListingNotFound
		}
		if err != nil {
			return err
		}
		if status != ListingActive || in.Quantity > qty {
			return ErrListingUnavailable
		}
		if sellerID == in.BuyerID {
			return validationf("cannot buy own listing")
		}
		cost := in.Quantity * price
		if cost/in.Quantity != price {
			return validationf("cost overflow")
		}

		groupID := uuid.NewString()
		meta := map[string]any{"listing_id": in.ListingID}
		steps := []Step{
			{ActorID: in.BuyerID, Kind: KindAuctionTrade, Resource: ResourceGold, Delta: -cost, Meta: meta},
			{ActorID: sellerID, Kind: KindAuctionTrade, Resource: ResourceGold, Delta: cost, Meta: meta},
			{ActorID: sellerID, Kind: KindAuctionTrade, Resource: ResourceItem, ItemKey: itemKey, Location: LocationEscrow, Delta: -in.Quantity, Meta: meta},
			{ActorID: in.BuyerID, Kind: KindAuctionTrade, Resource: ResourceItem, ItemKey: itemKey, Location: LocationWarehouse, Delta: in.Quantity, Meta: meta},
		}
		if err := applySteps(ctx, tx, groupID, steps); err != nil {
			return err
		}

		remaining := qty - in.Quantity
		nextStatus := ListingActive
		if remaining == 0 {
			nextStatus = ListingSold
		}
		if err := tx.QueryRow(ctx, `
			UPDATE econ.listings
			SET quantity = $1, status = $2, updated_at = now()
			WHERE id = $3
			RETURNING created_at
		`, remaining, nextStatus, in.ListingID).Scan(&out.Listing.CreatedAt); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, `
			SELECT gold FROM econ.wallets WHERE actor_id = $1
		`, in.BuyerID).Scan(&out.BuyerGold); err != nil {
			return err
		}

		out.Listing = ListingView{
			ID:        in.ListingID,
			SellerID:  sellerID,
			ItemKey:   itemKey,
			Quantity:  remaining,
			PriceGold: price,
			Status:    nextStatus,
			CreatedAt: out.Listing.CreatedAt,
		}
		out.PaidGold = cost
		return nil
	})
	return out, err
}

// CancelListing returns the escrowed goods to the seller's warehouse.
func (s *Service) CancelListing(ctx context.Context, in CancelListingInput) (ListingView, error) {
	var out ListingView
	err := s.withSerializableTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, in.SellerID, in.IdempotencyKey, "cancel_listing"); err != nil {
			return err
		}

		var (
			sellerID string
			itemKey  string
			qty      int64
			price    int64
			status   string
		)
		err := tx.QueryRow(ctx, `
			SELECT seller_id, item_key, quantity, price_gold, status
			FROM econ.listings
			WHERE id = $1
			FOR UPDATE
		`, in.ListingID).Scan(&sellerID, &itemKey, &qty, &price, &status)
		if err == pgx.ErrNoRows {
			return ErrListingNotFound
		}
		if err != nil {
			return err
		}
		if sellerID != in.SellerID {
			return ErrUnauthorized
		}
		if status != ListingActive {
			return ErrListingUnavailable
		}

		groupID := uuid.NewString()
		meta := map[string]any{"listing_id": in.ListingID}
		steps := []Step{
			{ActorID: sellerID, Kind: KindAuctionRelease, Resource: ResourceItem, ItemKey: itemKey, Location: LocationEscrow, Delta: -qty, Meta: meta},
			{ActorID: sellerID, Kind: KindAuctionRelease, Resource: ResourceItem, ItemKey: itemKey, Location: LocationWarehouse, Delta: qty, Meta: meta},
		}
		if err := applySteps(ctx, tx, groupID, steps); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, `
			UPDATE econ.listings
			SET status = $1, updated_at = now()
			WHERE id = $2
			RETURNING created_at
		`, ListingCancelled, in.ListingID).Scan(&out.CreatedAt); err != nil {
			return err
		}

		out.ID = in.ListingID
		out.SellerID = sellerID
		out.ItemKey = itemKey
		out.Quantity = qty
		out.PriceGold = price
		out.Status = ListingCancelled
		return nil
	})
	return out, err
}

// ActiveListings returns the newest active listings, optionally filtered by
// item key, capped at one page.
func (s *Service) ActiveListings(ctx context.Context, itemKey string) ([]ListingView, error) {
	query := `
		SELECT id, seller_id, item_key, quantity, price_gold, status, created_at
		FROM econ.listings
		WHERE status = 'active'
	`
	args := []any{}
	if itemKey != "" {
		if err := ValidateItemKey(itemKey); err != nil {
			return nil, err
		}
		query += " AND item_key = $1"
		args = append(args, itemKey)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT %d", ListingsPageSize)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ListingView, 0)
	for rows.Next() {
		var v ListingView
		if err := rows.Scan(&v.ID, &v.SellerID, &v.ItemKey, &v.Quantity, &v.PriceGold, &v.Status, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
