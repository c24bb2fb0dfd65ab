package economy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	StarterGold = int64(500)

	// Inventory granted to new players so the market has something to move.
	StarterItemKey = "iron_ore"
	StarterItemQty = int64(20)

	ListingsPageSize   = 100
	PriceTicksPageSize = 500
)

// Location is where an inventory slot lives. Escrow holds goods while a
// listing is pending; nothing else writes to it.
type Location string

const (
	LocationWarehouse Location = "warehouse"
	LocationCaravan   Location = "caravan"
	LocationEscrow    Location = "escrow"
)

// Listing lifecycle. Sold and cancelled are terminal.
const (
	ListingActive    = "active"
	ListingSold      = "sold"
	ListingCancelled = "cancelled"
)

// Mission lifecycle.
const (
	MissionScheduled = "scheduled"
	MissionActive    = "active"
	MissionCompleted = "completed"
	MissionCancelled = "cancelled"
)

var (
	ErrValidation            = errors.New("invalid input")
	ErrInvalidItemKey        = errors.New("item key must be 2-32 lowercase letters, digits or underscores")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrListingNotFound       = errors.New("listing not found")
	ErrListingUnavailable    = errors.New("listing unavailable")
	ErrMissionNotFound       = errors.New("mission not found")
	ErrMissionNotActive      = errors.New("mission not active")
	ErrGoodNotFound          = errors.New("good not found")
	ErrActorUnknown          = errors.New("actor has no wallet")
	ErrDuplicateIdempotency  = errors.New("duplicate idempotency key")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrTxConflict            = errors.New("storage conflict, retry")
)

var itemKeyRE = regexp.MustCompile(`^[a-z][a-z0-9_]{1,31}$`)

// validationf wraps an input-shape complaint in ErrValidation so the API can
// surface it with a stable code before any store work has happened.
func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

func ValidateItemKey(key string) error {
	if !itemKeyRE.MatchString(strings.TrimSpace(key)) {
		return ErrInvalidItemKey
	}
	return nil
}

func ValidLocation(loc Location) bool {
	switch loc {
	case LocationWarehouse, LocationCaravan, LocationEscrow:
		return true
	}
	return false
}
