package economy

import (
	"context"
	"sort"

	"github.com/jackc/pgx/v5"
)

// orderRankings derives the ranking order from contribution totals: highest
// score first, ties broken by earliest contribution time, then actor id.
// Identical inputs always produce identical output.
func orderRankings(missionID int64, totals []contributorTotal) []RankingRow {
	sorted := make([]contributorTotal, len(totals))
	copy(sorted, totals)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.FirstAt.Equal(b.FirstAt) {
			return a.FirstAt.Before(b.FirstAt)
		}
		return a.ActorID < b.ActorID
	})
	out := make([]RankingRow, 0, len(sorted))
	for i, c := range sorted {
		out = append(out, RankingRow{
			MissionID: missionID,
			ActorID:   c.ActorID,
			Rank:      int64(i + 1),
			Score:     c.Score,
		})
	}
	return out
}

// recomputeRankingsTx replaces the mission's ranking rows in one shot so a
// reader never observes a partially written ranking.
func recomputeRankingsTx(ctx context.Context, tx pgx.Tx, missionID int64) error {
	totals, err := contributorTotalsTx(ctx, tx, missionID)
	if err != nil {
		return err
	}
	rows := orderRankings(missionID, totals)

	if _, err := tx.Exec(ctx, `
		DELETE FROM econ.mission_rankings WHERE mission_id = $1
	`, missionID); err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := tx.Exec(ctx, `
			INSERT INTO econ.mission_rankings (mission_id, actor_id, rank, score, computed_at)
			VALUES ($1, $2, $3, $4, now())
		`, r.MissionID, r.ActorID, r.Rank, r.Score); err != nil {
			return err
		}
	}
	return nil
}

// RecomputeRankings rebuilds the derived ranking for one mission. Safe to run
// any number of times; the rows are always reconstructible from contributions.
func (s *Service) RecomputeRankings(ctx context.Context, missionID int64) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := recomputeRankingsTx(ctx, tx, missionID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RefreshActiveRankings recomputes rankings for every active mission.
func (s *Service) RefreshActiveRankings(ctx context.Context) error {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM econ.server_missions WHERE status = 'active'
	`)
	if err != nil {
		return err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range ids {
		if err := s.RecomputeRankings(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Rankings(ctx context.Context, missionID int64) ([]RankingRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT r.mission_id, r.actor_id, COALESCE(p.username, ''), r.rank, r.score
		FROM econ.mission_rankings r
		LEFT JOIN users.profiles p ON p.user_id = r.actor_id
		WHERE r.mission_id = $1
		ORDER BY r.rank
	`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]RankingRow, 0)
	for rows.Next() {
		var r RankingRow
		if err := rows.Scan(&r.MissionID, &r.ActorID, &r.Username, &r.Rank, &r.Score); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
