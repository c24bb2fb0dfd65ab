package economy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type TierPolicy string

// TierPolicyAggregate compares total progress against total requirements.
// TierPolicyMinKey takes the worst per-resource ratio, so every resource must
// advance for the mission to tier up.
const (
	TierPolicyAggregate TierPolicy = "aggregate"
	TierPolicyMinKey    TierPolicy = "min_key"
)

type SplitPolicy string

// SplitProportional divides each tier reward by contribution share, flooring
// per-actor amounts; the division remainder is never minted. SplitFlat pays
// the full configured reward to every participant.
const (
	SplitProportional SplitPolicy = "proportional"
	SplitFlat         SplitPolicy = "flat"
)

type Tier struct {
	Name      string  `json:"name"`
	Threshold float64 `json:"threshold"`
}

type TierReward struct {
	Gold  int64            `json:"gold"`
	Items map[string]int64 `json:"items,omitempty"`
}

// MissionConfig is the validated, typed form of a mission's stored
// requirements, tiers and rewards. Every write and read goes through
// Validate so malformed shapes never reach the aggregation code.
type MissionConfig struct {
	Requirements map[string]int64      `json:"requirements"`
	Tiers        []Tier                `json:"tiers"`
	Rewards      map[string]TierReward `json:"rewards"`
	TierPolicy   TierPolicy            `json:"tier_policy"`
	SplitPolicy  SplitPolicy           `json:"split_policy"`
	CapProgress  bool                  `json:"cap_progress"`
}

func (c MissionConfig) Validate() error {
	if len(c.Requirements) == 0 {
		return fmt.Errorf("requirements must not be empty")
	}
	for key, qty := range c.Requirements {
		if err := ValidateItemKey(key); err != nil {
			return fmt.Errorf("requirement %q: %w", key, err)
		}
		if qty <= 0 {
			return fmt.Errorf("requirement %q must be > 0", key)
		}
	}
	if len(c.Tiers) == 0 {
		return fmt.Errorf("at least one tier is required")
	}
	seen := make(map[string]bool, len(c.Tiers))
	prev := 0.0
	for _, t := range c.Tiers {
		if t.Name == "" {
			return fmt.Errorf("tier name must not be empty")
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate tier %q", t.Name)
		}
		seen[t.Name] = true
		if t.Threshold <= 0 {
			return fmt.Errorf("tier %q threshold must be > 0", t.Name)
		}
		if t.Threshold <= prev {
			return fmt.Errorf("tier thresholds must be strictly ascending")
		}
		prev = t.Threshold
	}
	for name, reward := range c.Rewards {
		if !seen[name] {
			return fmt.Errorf("reward for unknown tier %q", name)
		}
		if reward.Gold < 0 {
			return fmt.Errorf("tier %q reward gold must be >= 0", name)
		}
		for key, qty := range reward.Items {
			if err := ValidateItemKey(key); err != nil {
				return fmt.Errorf("tier %q reward item %q: %w", name, key, err)
			}
			if qty <= 0 {
				return fmt.Errorf("tier %q reward item %q must be > 0", name, key)
			}
		}
	}
	switch c.TierPolicy {
	case TierPolicyAggregate, TierPolicyMinKey:
	default:
		return fmt.Errorf("unknown tier policy %q", c.TierPolicy)
	}
	switch c.SplitPolicy {
	case SplitProportional, SplitFlat:
	default:
		return fmt.Errorf("unknown split policy %q", c.SplitPolicy)
	}
	return nil
}

// completionRatio computes mission completion under the configured policy.
// Progress beyond a requirement still counts toward the aggregate ratio
// unless the mission caps stored progress.
func completionRatio(requirements, progress map[string]int64, policy TierPolicy) float64 {
	switch policy {
	case TierPolicyMinKey:
		min := -1.0
		for key, req := range requirements {
			r := float64(progress[key]) / float64(req)
			if min < 0 || r < min {
				min = r
			}
		}
		if min < 0 {
			return 0
		}
		return min
	default:
		var reqTotal, progTotal int64
		for key, req := range requirements {
			reqTotal += req
			progTotal += progress[key]
		}
		if reqTotal == 0 {
			return 0
		}
		return float64(progTotal) / float64(reqTotal)
	}
}

// evaluateTier returns the highest tier whose threshold the ratio meets.
func evaluateTier(cfg MissionConfig, progress map[string]int64) (Tier, bool) {
	ratio := completionRatio(cfg.Requirements, progress, cfg.TierPolicy)
	tiers := make([]Tier, len(cfg.Tiers))
	copy(tiers, cfg.Tiers)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Threshold > tiers[j].Threshold })
	for _, t := range tiers {
		if ratio >= t.Threshold {
			return t, true
		}
	}
	return Tier{}, false
}

type contributorTotal struct {
	ActorID string
	Score   int64
	FirstAt time.Time
}

type rewardPayout struct {
	ActorID string
	Gold    int64
	Items   map[string]int64
}

// splitReward turns one tier reward into per-actor payouts. Output order
// follows the input order, which callers keep deterministic.
func splitReward(reward TierReward, policy SplitPolicy, totals []contributorTotal) []rewardPayout {
	if len(totals) == 0 {
		return nil
	}
	payouts := make([]rewardPayout, 0, len(totals))
	if policy == SplitFlat {
		for _, c := range totals {
			p := rewardPayout{ActorID: c.ActorID, Gold: reward.Gold}
			if len(reward.Items) > 0 {
				p.Items = make(map[string]int64, len(reward.Items))
				for k, v := range reward.Items {
					p.Items[k] = v
				}
			}
			payouts = append(payouts, p)
		}
		return payouts
	}

	var scoreSum int64
	for _, c := range totals {
		scoreSum += c.Score
	}
	for _, c := range totals {
		if scoreSum <= 0 {
			break
		}
		p := rewardPayout{ActorID: c.ActorID}
		p.Gold = reward.Gold * c.Score / scoreSum
		for k, v := range reward.Items {
			share := v * c.Score / scoreSum
			if share > 0 {
				if p.Items == nil {
					p.Items = make(map[string]int64)
				}
				p.Items[k] = share
			}
		}
		if p.Gold > 0 || len(p.Items) > 0 {
			payouts = append(payouts, p)
		}
	}
	return payouts
}

// Contribute consumes resources from the actor's warehouse and folds them into
// the mission's shared progress counters. Progress rows are advanced with
// upsert increments, so contributions from different actors only contend on
// the counters themselves.
func (s *Service) Contribute(ctx context.Context, in ContributeInput) (ContributeResult, error) {
	var out ContributeResult
	if len(in.Amounts) == 0 {
		return out, validationf("amounts must not be empty")
	}
	for key, qty := range in.Amounts {
		if err := ValidateItemKey(key); err != nil {
			return out, err
		}
		if qty <= 0 {
			return out, validationf("amount for %q must be > 0", key)
		}
	}

	err := s.withSerializableTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, in.ActorID, in.IdempotencyKey, "contribute"); err != nil {
			return err
		}

		var status string
		cfg, err := loadMissionConfig(ctx, tx, in.MissionID, &status)
		if err != nil {
			return err
		}
		if status != MissionActive {
			return ErrMissionNotActive
		}
		for key := range in.Amounts {
			if _, ok := cfg.Requirements[key]; !ok {
				return validationf("resource %q is not part of this mission", key)
			}
		}

		groupID := uuid.NewString()
		meta := map[string]any{"mission_id": in.MissionID}
		keys := sortedKeys(in.Amounts)
		steps := make([]Step, 0, len(keys))
		for _, key := range keys {
			steps = append(steps, Step{
				ActorID:  in.ActorID,
				Kind:     KindMissionContribute,
				Resource: ResourceItem,
				ItemKey:  key,
				Location: LocationWarehouse,
				Delta:    -in.Amounts[key],
				Meta:     meta,
			})
		}
		if err := applySteps(ctx, tx, groupID, steps); err != nil {
			return err
		}

		for _, key := range keys {
			qty := in.Amounts[key]
			if cfg.CapProgress {
				// Clamp stored progress at the requirement inside the same
				// upsert; the contribution rows below keep the full amount.
				if _, err := tx.Exec(ctx, `
					INSERT INTO econ.mission_progress (mission_id, resource_key, accumulated)
					VALUES ($1, $2, LEAST($3, $4))
					ON CONFLICT (mission_id, resource_key)
					DO UPDATE SET accumulated = LEAST(econ.mission_progress.accumulated + $3, $4)
				`, in.MissionID, key, qty, cfg.Requirements[key]); err != nil {
					return err
				}
			} else {
				if _, err := tx.Exec(ctx, `
					INSERT INTO econ.mission_progress (mission_id, resource_key, accumulated)
					VALUES ($1, $2, $3)
					ON CONFLICT (mission_id, resource_key)
					DO UPDATE SET accumulated = econ.mission_progress.accumulated + $3
				`, in.MissionID, key, qty); err != nil {
					return err
				}
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO econ.mission_contributions (mission_id, actor_id, resource_key, contributed, last_contributed_at)
				VALUES ($1, $2, $3, $4, now())
				ON CONFLICT (mission_id, actor_id, resource_key)
				DO UPDATE SET contributed = econ.mission_contributions.contributed + $4,
				              last_contributed_at = now()
			`, in.MissionID, in.ActorID, key, qty); err != nil {
				return err
			}
		}

		progress, err := missionProgressTx(ctx, tx, in.MissionID)
		if err != nil {
			return err
		}
		out = ContributeResult{
			MissionID:     in.MissionID,
			MissionStatus: status,
			Contributed:   in.Amounts,
			Progress:      progress,
		}
		return nil
	})
	return out, err
}

// Settle pays out the reached tier and completes the mission. It is
// idempotent: the status flip happens in the same transaction as the reward
// grants, and an already-completed mission returns its stored summary without
// paying again.
func (s *Service) Settle(ctx context.Context, in SettleInput) (SettleResult, error) {
	var out SettleResult
	err := s.withSerializableTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var status string
		var reachedTier *string
		row := tx.QueryRow(ctx, `
			SELECT status, reached_tier
			FROM econ.server_missions
			WHERE id = $1
			FOR UPDATE
		`, in.MissionID)
		if err := row.Scan(&status, &reachedTier); err != nil {
			if err == pgx.ErrNoRows {
				return ErrMissionNotFound
			}
			return err
		}
		if status == MissionCompleted {
			summary, err := settledSummaryTx(ctx, tx, in.MissionID, reachedTier)
			if err != nil {
				return err
			}
			out = summary
			out.AlreadySettled = true
			return nil
		}
		if status != MissionActive {
			return ErrMissionNotActive
		}

		cfg, err := loadMissionConfig(ctx, tx, in.MissionID, &status)
		if err != nil {
			return err
		}
		progress, err := missionProgressTx(ctx, tx, in.MissionID)
		if err != nil {
			return err
		}
		totals, err := contributorTotalsTx(ctx, tx, in.MissionID)
		if err != nil {
			return err
		}

		tier, reached := evaluateTier(cfg, progress)
		var tierName any
		var goldPaid int64
		if reached {
			tierName = tier.Name
			reward, hasReward := cfg.Rewards[tier.Name]
			if hasReward && len(totals) > 0 {
				payouts := splitReward(reward, cfg.SplitPolicy, totals)
				groupID := uuid.NewString()
				meta := map[string]any{"mission_id": in.MissionID, "tier": tier.Name}
				var steps []Step
				for _, p := range payouts {
					if p.Gold > 0 {
						steps = append(steps, Step{
							ActorID: p.ActorID, Kind: KindMissionReward,
							Resource: ResourceGold, Delta: p.Gold, Meta: meta,
						})
						goldPaid += p.Gold
					}
					for _, key := range sortedKeys(p.Items) {
						steps = append(steps, Step{
							ActorID: p.ActorID, Kind: KindMissionReward,
							Resource: ResourceItem, ItemKey: key,
							Location: LocationWarehouse, Delta: p.Items[key], Meta: meta,
						})
					}
				}
				if len(steps) > 0 {
					if err := applySteps(ctx, tx, groupID, steps); err != nil {
						return err
					}
				}
			}
		}

		cmd, err := tx.Exec(ctx, `
			UPDATE econ.server_missions
			SET status = $1, reached_tier = $2, settled_at = now()
			WHERE id = $3 AND status = $4
		`, MissionCompleted, tierName, in.MissionID, MissionActive)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrMissionNotActive
		}

		if err := recomputeRankingsTx(ctx, tx, in.MissionID); err != nil {
			return err
		}

		out = SettleResult{
			MissionID:    in.MissionID,
			Participants: int64(len(totals)),
			GoldPaid:     goldPaid,
		}
		if reached {
			out.ReachedTier = tier.Name
		}
		return nil
	})
	return out, err
}

// Missions lists scheduled and active missions with live progress and the
// tier the current progress would settle at.
func (s *Service) Missions(ctx context.Context) ([]MissionView, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, title, mission_type, status, requirements, tiers, rewards,
		       tier_policy, split_policy, cap_progress,
		       COALESCE(reached_tier, ''), starts_at, ends_at
		FROM econ.server_missions
		WHERE status IN ('scheduled', 'active')
		ORDER BY ends_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]MissionView, 0)
	var cfgs []MissionConfig
	for rows.Next() {
		var v MissionView
		var reqJSON, tiersJSON, rewardsJSON []byte
		var tierPolicy, splitPolicy string
		var capProgress bool
		if err := rows.Scan(&v.ID, &v.Title, &v.MissionType, &v.Status,
			&reqJSON, &tiersJSON, &rewardsJSON,
			&tierPolicy, &splitPolicy, &capProgress,
			&v.ReachedTier, &v.StartsAt, &v.EndsAt); err != nil {
			return nil, err
		}
		cfg, err := parseMissionConfig(reqJSON, tiersJSON, rewardsJSON, tierPolicy, splitPolicy, capProgress)
		if err != nil {
			return nil, fmt.Errorf("mission %d: %w", v.ID, err)
		}
		v.Requirements = cfg.Requirements
		v.Tiers = cfg.Tiers
		out = append(out, v)
		cfgs = append(cfgs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		progress, err := s.missionProgress(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Progress = progress
		if tier, ok := evaluateTier(cfgs[i], progress); ok {
			out[i].ReachedTier = tier.Name
		}
	}
	return out, nil
}

// ActivateDueMissions flips scheduled missions whose start time has passed.
func (s *Service) ActivateDueMissions(ctx context.Context) (int64, error) {
	cmd, err := s.db.Exec(ctx, `
		UPDATE econ.server_missions
		SET status = 'active'
		WHERE status = 'scheduled' AND starts_at <= now()
	`)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// SettleDueMissions settles every active mission whose end time has passed.
func (s *Service) SettleDueMissions(ctx context.Context) error {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM econ.server_missions
		WHERE status = 'active' AND ends_at <= now()
	`)
	if err != nil {
		return err
	}
	var due []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		due = append(due, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range due {
		result, err := s.Settle(ctx, SettleInput{MissionID: id})
		if err != nil {
			s.log.Error("mission auto-settle failed", "mission_id", id, "err", err)
			continue
		}
		s.log.Info("mission settled", "mission_id", id,
			"tier", result.ReachedTier, "participants", result.Participants,
			"gold_paid", result.GoldPaid)
	}
	return nil
}

func insertMission(ctx context.Context, tx pgx.Tx, title, missionType string, cfg MissionConfig, startsAt, endsAt time.Time) error {
	reqJSON, err := json.Marshal(cfg.Requirements)
	if err != nil {
		return err
	}
	tiersJSON, err := json.Marshal(cfg.Tiers)
	if err != nil {
		return err
	}
	rewardsJSON, err := json.Marshal(cfg.Rewards)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO econ.server_missions
		    (title, mission_type, requirements, tiers, rewards, tier_policy, split_policy, cap_progress, status, starts_at, ends_at)
		VALUES ($1, $2, $3::jsonb, $4::jsonb, $5::jsonb, $6, $7, $8, $9, $10, $11)
	`, title, missionType, string(reqJSON), string(tiersJSON), string(rewardsJSON),
		string(cfg.TierPolicy), string(cfg.SplitPolicy), cfg.CapProgress, MissionScheduled, startsAt, endsAt)
	return err
}

func loadMissionConfig(ctx context.Context, tx pgx.Tx, missionID int64, status *string) (MissionConfig, error) {
	var reqJSON, tiersJSON, rewardsJSON []byte
	var tierPolicy, splitPolicy string
	var capProgress bool
	err := tx.QueryRow(ctx, `
		SELECT status, requirements, tiers, rewards, tier_policy, split_policy, cap_progress
		FROM econ.server_missions
		WHERE id = $1
	`, missionID).Scan(status, &reqJSON, &tiersJSON, &rewardsJSON, &tierPolicy, &splitPolicy, &capProgress)
	if err == pgx.ErrNoRows {
		return MissionConfig{}, ErrMissionNotFound
	}
	if err != nil {
		return MissionConfig{}, err
	}
	return parseMissionConfig(reqJSON, tiersJSON, rewardsJSON, tierPolicy, splitPolicy, capProgress)
}

func parseMissionConfig(reqJSON, tiersJSON, rewardsJSON []byte, tierPolicy, splitPolicy string, capProgress bool) (MissionConfig, error) {
	cfg := MissionConfig{
		TierPolicy:  TierPolicy(tierPolicy),
		SplitPolicy: SplitPolicy(splitPolicy),
		CapProgress: capProgress,
	}
	if err := json.Unmarshal(reqJSON, &cfg.Requirements); err != nil {
		return cfg, fmt.Errorf("requirements: %w", err)
	}
	if err := json.Unmarshal(tiersJSON, &cfg.Tiers); err != nil {
		return cfg, fmt.Errorf("tiers: %w", err)
	}
	if err := json.Unmarshal(rewardsJSON, &cfg.Rewards); err != nil {
		return cfg, fmt.Errorf("rewards: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (s *Service) missionProgress(ctx context.Context, missionID int64) (map[string]int64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT resource_key, accumulated
		FROM econ.mission_progress
		WHERE mission_id = $1
	`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanProgress(rows)
}

func missionProgressTx(ctx context.Context, tx pgx.Tx, missionID int64) (map[string]int64, error) {
	rows, err := tx.Query(ctx, `
		SELECT resource_key, accumulated
		FROM econ.mission_progress
		WHERE mission_id = $1
	`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanProgress(rows)
}

func scanProgress(rows pgx.Rows) (map[string]int64, error) {
	out := make(map[string]int64)
	for rows.Next() {
		var key string
		var qty int64
		if err := rows.Scan(&key, &qty); err != nil {
			return nil, err
		}
		out[key] = qty
	}
	return out, rows.Err()
}

// contributorTotalsTx returns per-actor total contributions in a stable
// order: highest total first, earliest contributor wins ties.
func contributorTotalsTx(ctx context.Context, tx pgx.Tx, missionID int64) ([]contributorTotal, error) {
	rows, err := tx.Query(ctx, `
		SELECT actor_id, SUM(contributed), MIN(last_contributed_at)
		FROM econ.mission_contributions
		WHERE mission_id = $1
		GROUP BY actor_id
		ORDER BY SUM(contributed) DESC, MIN(last_contributed_at), actor_id
	`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []contributorTotal
	for rows.Next() {
		var c contributorTotal
		if err := rows.Scan(&c.ActorID, &c.Score, &c.FirstAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// settledSummary builds the base result an already-completed mission reports.
func settledSummary(missionID int64, reachedTier *string) SettleResult {
	out := SettleResult{MissionID: missionID}
	if reachedTier != nil {
		out.ReachedTier = *reachedTier
	}
	return out
}

// missionMetaID renders a mission id the way it appears in ledger metadata:
// ids are stored as JSON numbers, so ->> yields their canonical decimal form.
func missionMetaID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func settledSummaryTx(ctx context.Context, tx pgx.Tx, missionID int64, reachedTier *string) (SettleResult, error) {
	out := settledSummary(missionID, reachedTier)
	err := tx.QueryRow(ctx, `
		SELECT COUNT(DISTINCT actor_id)
		FROM econ.mission_contributions
		WHERE mission_id = $1
	`, missionID).Scan(&out.Participants)
	if err != nil {
		return out, err
	}
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(delta), 0)
		FROM econ.ledger_entries
		WHERE kind = $1 AND item_key IS NULL AND metadata->>'mission_id' = $2
	`, KindMissionReward, missionMetaID(missionID)).Scan(&out.GoldPaid)
	return out, err
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
