package economy

import (
	"math/rand"
	"testing"
)

func TestEvolvePrice(t *testing.T) {
	if got := evolvePrice(0, 0.5, 1.8); got != 1 {
		t.Fatalf("non-positive price should reset to 1, got %d", got)
	}
	if got := evolvePrice(100, 0, 1.8); got != 100 {
		t.Fatalf("zero return should hold price, got %d", got)
	}
	// Drops are bounded per tick even for an extreme negative return.
	floorBound := evolvePrice(1000, -50, 1.0)
	if floorBound < 367 {
		t.Fatalf("drop exceeded per-tick bound: %d", floorBound)
	}
	if got := evolvePrice(1, -5, 2.4); got < 1 {
		t.Fatalf("price fell below 1: %d", got)
	}
}

func TestClampGold(t *testing.T) {
	tests := []struct {
		v, floor, ceiling, want int64
	}{
		{v: 5, floor: 10, ceiling: 100, want: 10},
		{v: 150, floor: 10, ceiling: 100, want: 100},
		{v: 50, floor: 10, ceiling: 100, want: 50},
		{v: 50, floor: 0, ceiling: 0, want: 50},
	}
	for _, tc := range tests {
		if got := clampGold(tc.v, tc.floor, tc.ceiling); got != tc.want {
			t.Fatalf("clampGold(%d,%d,%d) = %d, want %d", tc.v, tc.floor, tc.ceiling, got, tc.want)
		}
	}
}

func TestNormalish(t *testing.T) {
	if got := normalish(0); got != -1 {
		t.Fatalf("normalish(0) = %v, want -1", got)
	}
	if got := normalish(1); got != 1 {
		t.Fatalf("normalish(1) = %v, want 1", got)
	}
	if got := normalish(0.5); got != 0 {
		t.Fatalf("normalish(0.5) = %v, want 0", got)
	}
}

func TestSignedShock(t *testing.T) {
	if got := signedShock(0.5, 0.1, 0.13); got >= 0 {
		t.Fatalf("expected negative shock, got %v", got)
	}
	if got := signedShock(0.5, 0.9, 0.13); got <= 0 {
		t.Fatalf("expected positive shock, got %v", got)
	}
}

func TestRandomRegime(t *testing.T) {
	if got := randomRegime(0.1); got != "bear" {
		t.Fatalf("seed 0.1 = %s, want bear", got)
	}
	if got := randomRegime(0.5); got != "neutral" {
		t.Fatalf("seed 0.5 = %s, want neutral", got)
	}
	if got := randomRegime(0.9); got != "bull" {
		t.Fatalf("seed 0.9 = %s, want bull", got)
	}
}

func TestVolatilityParams(t *testing.T) {
	calm := volatilityParams("calm")
	fair := volatilityParams("")
	wild := volatilityParams("WILD")
	if !(calm.NoiseScale < fair.NoiseScale && fair.NoiseScale < wild.NoiseScale) {
		t.Fatalf("noise should rise with volatility: %v %v %v",
			calm.NoiseScale, fair.NoiseScale, wild.NoiseScale)
	}
	if !(calm.ShockProb < fair.ShockProb && fair.ShockProb < wild.ShockProb) {
		t.Fatalf("shock probability should rise with volatility")
	}
	if unknown := volatilityParams("sideways"); unknown != fair {
		t.Fatalf("unknown mode should fall back to the default dynamics")
	}
}

func TestPriceWalkStaysClamped(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, mode := range []string{"calm", "fair", "wild"} {
		params := volatilityParams(mode)
		var price, anchor, floor, ceiling int64 = 40, 40, 8, 400
		for i := 0; i < 5000; i++ {
			regime := randomRegime(rng.Float64())
			ret := regimeDrift(regime) + params.NoiseScale*normalish(rng.Float64()) + meanReversion(price, anchor, params.MeanReversion)
			if rng.Float64() < params.ShockProb {
				ret += signedShock(rng.Float64(), rng.Float64(), params.ShockScale)
			}
			price = clampGold(evolvePrice(price, ret, params.MaxDropPerTick), floor, ceiling)
			if price < floor || price > ceiling {
				t.Fatalf("mode %s tick %d: price %d escaped [%d,%d]", mode, i, price, floor, ceiling)
			}
		}
	}
}

func TestMeanReversion(t *testing.T) {
	if got := meanReversion(50, 100, 0.1); got <= 0 {
		t.Fatalf("below anchor should pull up, got %v", got)
	}
	if got := meanReversion(200, 100, 0.1); got >= 0 {
		t.Fatalf("above anchor should pull down, got %v", got)
	}
	if got := meanReversion(100, 0, 0.1); got != 0 {
		t.Fatalf("zero anchor should be inert, got %v", got)
	}
}
