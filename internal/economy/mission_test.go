package economy

import (
	"encoding/json"
	"testing"
	"time"
)

func baseConfig() MissionConfig {
	return MissionConfig{
		Requirements: map[string]int64{"iron_ore": 500, "timber": 300},
		Tiers: []Tier{
			{Name: "bronze", Threshold: 0.25},
			{Name: "silver", Threshold: 0.6},
			{Name: "gold", Threshold: 1.0},
		},
		Rewards: map[string]TierReward{
			"bronze": {Gold: 100},
			"silver": {Gold: 300},
			"gold":   {Gold: 1000, Items: map[string]int64{"silk": 10}},
		},
		TierPolicy:  TierPolicyAggregate,
		SplitPolicy: SplitProportional,
	}
}

func TestMissionConfigValidate(t *testing.T) {
	if err := baseConfig().Validate(); err != nil {
		t.Fatalf("expected base config to validate: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*MissionConfig)
	}{
		{"no requirements", func(c *MissionConfig) { c.Requirements = nil }},
		{"zero requirement", func(c *MissionConfig) { c.Requirements["iron_ore"] = 0 }},
		{"bad requirement key", func(c *MissionConfig) { c.Requirements["Iron"] = 5 }},
		{"no tiers", func(c *MissionConfig) { c.Tiers = nil }},
		{"descending tiers", func(c *MissionConfig) {
			c.Tiers = []Tier{{Name: "a", Threshold: 0.6}, {Name: "b", Threshold: 0.25}}
		}},
		{"duplicate tier", func(c *MissionConfig) {
			c.Tiers = []Tier{{Name: "a", Threshold: 0.25}, {Name: "a", Threshold: 0.6}}
		}},
		{"reward for unknown tier", func(c *MissionConfig) {
			c.Rewards["platinum"] = TierReward{Gold: 1}
		}},
		{"negative reward gold", func(c *MissionConfig) {
			c.Rewards["bronze"] = TierReward{Gold: -1}
		}},
		{"unknown tier policy", func(c *MissionConfig) { c.TierPolicy = "best_effort" }},
		{"unknown split policy", func(c *MissionConfig) { c.SplitPolicy = "lottery" }},
	}
	for _, tc := range cases {
		cfg := baseConfig()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestCompletionRatioPolicies(t *testing.T) {
	req := map[string]int64{"iron_ore": 500, "timber": 300}
	prog := map[string]int64{"iron_ore": 500, "timber": 0}

	agg := completionRatio(req, prog, TierPolicyAggregate)
	if agg != 0.625 {
		t.Fatalf("aggregate ratio = %v, want 0.625", agg)
	}
	// min_key pins the ratio at the worst resource.
	if min := completionRatio(req, prog, TierPolicyMinKey); min != 0 {
		t.Fatalf("min_key ratio = %v, want 0", min)
	}

	prog["timber"] = 150
	if min := completionRatio(req, prog, TierPolicyMinKey); min != 0.5 {
		t.Fatalf("min_key ratio = %v, want 0.5", min)
	}
}

func TestEvaluateTier(t *testing.T) {
	cfg := MissionConfig{
		Requirements: map[string]int64{"grain": 100},
		Tiers: []Tier{
			{Name: "bronze", Threshold: 0.5},
			{Name: "silver", Threshold: 1.0},
		},
		TierPolicy:  TierPolicyAggregate,
		SplitPolicy: SplitFlat,
	}

	// Overshoot past the top threshold still lands on the top tier.
	tier, ok := evaluateTier(cfg, map[string]int64{"grain": 120})
	if !ok || tier.Name != "silver" {
		t.Fatalf("ratio 1.2: got %q ok=%v, want silver", tier.Name, ok)
	}

	tier, ok = evaluateTier(cfg, map[string]int64{"grain": 60})
	if !ok || tier.Name != "bronze" {
		t.Fatalf("ratio 0.6: got %q ok=%v, want bronze", tier.Name, ok)
	}

	if _, ok := evaluateTier(cfg, map[string]int64{"grain": 40}); ok {
		t.Fatalf("ratio 0.4: expected no tier")
	}
}

func TestSplitRewardProportional(t *testing.T) {
	reward := TierReward{Gold: 1000, Items: map[string]int64{"silk": 10}}
	totals := []contributorTotal{
		{ActorID: "a", Score: 700},
		{ActorID: "b", Score: 200},
		{ActorID: "c", Score: 100},
	}
	payouts := splitReward(reward, SplitProportional, totals)
	if len(payouts) != 3 {
		t.Fatalf("expected 3 payouts, got %d", len(payouts))
	}

	var goldSum, silkSum int64
	for _, p := range payouts {
		goldSum += p.Gold
		silkSum += p.Items["silk"]
	}
	// Floor division never pays out more than the reward.
	if goldSum > reward.Gold {
		t.Fatalf("gold sum %d exceeds reward %d", goldSum, reward.Gold)
	}
	if silkSum > reward.Items["silk"] {
		t.Fatalf("silk sum %d exceeds reward %d", silkSum, reward.Items["silk"])
	}
	if payouts[0].Gold != 700 || payouts[1].Gold != 200 || payouts[2].Gold != 100 {
		t.Fatalf("unexpected gold split: %d/%d/%d", payouts[0].Gold, payouts[1].Gold, payouts[2].Gold)
	}
}

func TestSplitRewardProportionalRemainder(t *testing.T) {
	reward := TierReward{Gold: 100}
	totals := []contributorTotal{
		{ActorID: "a", Score: 1},
		{ActorID: "b", Score: 1},
		{ActorID: "c", Score: 1},
	}
	payouts := splitReward(reward, SplitProportional, totals)
	var sum int64
	for _, p := range payouts {
		if p.Gold != 33 {
			t.Fatalf("expected each share to be 33, got %d", p.Gold)
		}
		sum += p.Gold
	}
	if sum != 99 {
		t.Fatalf("expected 99 paid with 1 unminted, got %d", sum)
	}
}

func TestSplitRewardFlat(t *testing.T) {
	reward := TierReward{Gold: 50, Items: map[string]int64{"wool": 3}}
	totals := []contributorTotal{
		{ActorID: "a", Score: 10},
		{ActorID: "b", Score: 1},
	}
	payouts := splitReward(reward, SplitFlat, totals)
	if len(payouts) != 2 {
		t.Fatalf("expected 2 payouts, got %d", len(payouts))
	}
	for _, p := range payouts {
		if p.Gold != 50 || p.Items["wool"] != 3 {
			t.Fatalf("flat payout for %s = %d gold, %d wool", p.ActorID, p.Gold, p.Items["wool"])
		}
	}

	if got := splitReward(reward, SplitFlat, nil); got != nil {
		t.Fatalf("expected no payouts without contributors")
	}
}

func TestSettledSummary(t *testing.T) {
	tier := "silver"
	out := settledSummary(9, &tier)
	if out.MissionID != 9 || out.ReachedTier != "silver" {
		t.Fatalf("summary = %+v, want mission 9 tier silver", out)
	}
	if out.AlreadySettled {
		t.Fatalf("base summary must not be marked settled")
	}

	// A mission settled below every threshold stores a null tier.
	out = settledSummary(9, nil)
	if out.ReachedTier != "" {
		t.Fatalf("nil tier should report empty, got %q", out.ReachedTier)
	}
}

func TestMissionMetaIDMatchesLedgerMetadata(t *testing.T) {
	// Reward entries tag their metadata with the mission id as a JSON number;
	// the settled-summary lookup must compare against that exact text form.
	raw, err := json.Marshal(map[string]any{"mission_id": int64(42)})
	if err != nil {
		t.Fatalf("marshal metadata: %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if got := string(decoded["mission_id"]); got != missionMetaID(42) {
		t.Fatalf("metadata form %q, lookup form %q", got, missionMetaID(42))
	}
}

func TestSplitRewardZeroScores(t *testing.T) {
	reward := TierReward{Gold: 100}
	totals := []contributorTotal{{ActorID: "a", Score: 0, FirstAt: time.Now()}}
	if got := splitReward(reward, SplitProportional, totals); len(got) != 0 {
		t.Fatalf("expected no proportional payouts for zero score sum, got %d", len(got))
	}
}
