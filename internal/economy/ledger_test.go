package economy

import "testing"

func TestValidateStepsConservation(t *testing.T) {
	// A 4-gold trade must debit the buyer and credit the seller.
	ok := []Step{
		GoldStep("buyer", KindAuctionTrade, -20),
		GoldStep("seller", KindAuctionTrade, 20),
		ItemStep("seller", KindAuctionTrade, "iron_ore", LocationEscrow, -4),
		ItemStep("buyer", KindAuctionTrade, "iron_ore", LocationWarehouse, 4),
	}
	if err := validateSteps(ok); err != nil {
		t.Fatalf("expected balanced trade to validate: %v", err)
	}

	unbalanced := []Step{
		GoldStep("buyer", KindAuctionTrade, -20),
		GoldStep("seller", KindAuctionTrade, 19),
	}
	if err := validateSteps(unbalanced); err == nil {
		t.Fatalf("expected unbalanced gold to fail")
	}
}

func TestValidateStepsMintExemption(t *testing.T) {
	// Reward and grant kinds may create gold without a matching debit.
	for _, kind := range []string{KindMissionReward, KindAdminGrant} {
		steps := []Step{GoldStep("winner", kind, 500)}
		if err := validateSteps(steps); err != nil {
			t.Fatalf("expected mint kind %q to validate: %v", kind, err)
		}
	}
	if err := validateSteps([]Step{GoldStep("winner", KindAuctionTrade, 500)}); err == nil {
		t.Fatalf("expected non-mint one-sided gold to fail")
	}
}

func TestValidateStepsRejects(t *testing.T) {
	cases := []struct {
		name  string
		steps []Step
	}{
		{"empty", nil},
		{"zero delta", []Step{GoldStep("a", KindAdminGrant, 0)}},
		{"missing actor", []Step{GoldStep("", KindAdminGrant, 5)}},
		{"bad item key", []Step{ItemStep("a", KindAdminGrant, "Iron", LocationWarehouse, 5)}},
		{"bad location", []Step{ItemStep("a", KindAdminGrant, "iron_ore", "vault", 5)}},
		{"gold with item fields", []Step{{
			ActorID: "a", Kind: KindAdminGrant, Resource: ResourceGold,
			ItemKey: "iron_ore", Delta: 5,
		}}},
		{"unknown resource", []Step{{ActorID: "a", Kind: KindAdminGrant, Resource: "favour", Delta: 5}}},
	}
	for _, tc := range cases {
		if err := validateSteps(tc.steps); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestNetByRowFoldsAndOrders(t *testing.T) {
	steps := []Step{
		ItemStep("zed", KindAuctionEscrow, "silk", LocationWarehouse, -3),
		ItemStep("zed", KindAuctionEscrow, "silk", LocationEscrow, 3),
		GoldStep("abe", KindMissionReward, 100),
		GoldStep("abe", KindMissionReward, 50),
		ItemStep("abe", KindMissionReward, "silk", LocationWarehouse, 2),
	}
	nets, keys := netByRow(steps)
	if len(keys) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(keys))
	}

	// Lock order is ascending (actor, item, location).
	want := []rowKey{
		{actorID: "abe"},
		{actorID: "abe", itemKey: "silk", loc: LocationWarehouse},
		{actorID: "zed", itemKey: "silk", loc: LocationEscrow},
		{actorID: "zed", itemKey: "silk", loc: LocationWarehouse},
	}
	for i, k := range keys {
		if k != want[i] {
			t.Fatalf("key[%d] = %+v, want %+v", i, k, want[i])
		}
	}
	if nets[rowKey{actorID: "abe"}] != 150 {
		t.Fatalf("expected abe's gold steps folded to 150, got %d", nets[rowKey{actorID: "abe"}])
	}
	if nets[rowKey{actorID: "zed", itemKey: "silk", loc: LocationWarehouse}] != -3 {
		t.Fatalf("expected zed warehouse net -3")
	}
}

func TestPartialBuyArithmetic(t *testing.T) {
	// Buying 4 of a 10-unit listing at 5 gold each costs 20 and leaves 6.
	var qty, price, buyQty int64 = 10, 5, 4
	cost := buyQty * price
	if cost != 20 {
		t.Fatalf("cost = %d, want 20", cost)
	}
	steps := []Step{
		GoldStep("buyer", KindAuctionTrade, -cost),
		GoldStep("seller", KindAuctionTrade, cost),
		ItemStep("seller", KindAuctionTrade, "iron_ore", LocationEscrow, -buyQty),
		ItemStep("buyer", KindAuctionTrade, "iron_ore", LocationWarehouse, buyQty),
	}
	if err := validateSteps(steps); err != nil {
		t.Fatalf("trade steps invalid: %v", err)
	}
	if remaining := qty - buyQty; remaining != 6 {
		t.Fatalf("remaining = %d, want 6", remaining)
	}
}
