package economy

import (
	"testing"
	"time"
)

func TestOrderRankings(t *testing.T) {
	early := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	late := early.Add(2 * time.Hour)

	totals := []contributorTotal{
		{ActorID: "carol", Score: 40, FirstAt: late},
		{ActorID: "bob", Score: 90, FirstAt: late},
		{ActorID: "alice", Score: 90, FirstAt: early},
	}
	rows := orderRankings(7, totals)
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}

	// Ties on score fall back to earliest contribution.
	wantOrder := []string{"alice", "bob", "carol"}
	for i, want := range wantOrder {
		if rows[i].ActorID != want {
			t.Fatalf("rank %d = %s, want %s", i+1, rows[i].ActorID, want)
		}
		if rows[i].Rank != int64(i+1) {
			t.Fatalf("rank field = %d, want %d", rows[i].Rank, i+1)
		}
		if rows[i].MissionID != 7 {
			t.Fatalf("mission id = %d, want 7", rows[i].MissionID)
		}
	}
}

func TestOrderRankingsDeterministic(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	totals := []contributorTotal{
		{ActorID: "b", Score: 10, FirstAt: at},
		{ActorID: "a", Score: 10, FirstAt: at},
	}
	first := orderRankings(1, totals)
	second := orderRankings(1, totals)
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("expected identical output for identical input")
		}
	}
	// Full tie resolves by actor id.
	if first[0].ActorID != "a" {
		t.Fatalf("expected actor id tiebreak, got %s first", first[0].ActorID)
	}
}

func TestOrderRankingsDoesNotMutateInput(t *testing.T) {
	totals := []contributorTotal{
		{ActorID: "b", Score: 1},
		{ActorID: "a", Score: 2},
	}
	orderRankings(1, totals)
	if totals[0].ActorID != "b" {
		t.Fatalf("input slice was reordered")
	}
}
