package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"tradewinds/internal/economy"

	"github.com/fatih/color"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

type listingsPayload struct {
	Listings []economy.ListingView `json:"listings"`
}

type goodsPayload struct {
	Goods []economy.GoodView `json:"goods"`
}

type ticksPayload struct {
	Ticks []economy.PriceTick `json:"ticks"`
}

type missionsPayload struct {
	Missions []economy.MissionView `json:"missions"`
}

type rankingsPayload struct {
	Rankings []economy.RankingRow `json:"rankings"`
}

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func promptInt64(label string, min int64) (int64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			printWarn("Enter a whole number.")
			continue
		}
		if v < min {
			printWarn(fmt.Sprintf("Value must be >= %d", min))
			continue
		}
		return v, nil
	}
}

func promptItemKey(label string) (string, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return "", err
		}
		key, err := normalizeItemKey(text)
		if err != nil {
			printWarn(err.Error())
			continue
		}
		return key, nil
	}
}

func normalizeItemKey(raw string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if err := economy.ValidateItemKey(key); err != nil {
		return "", err
	}
	return key, nil
}

func renderDashboard(raw map[string]any) error {
	d, err := decodeInto[economy.Dashboard](raw)
	if err != nil {
		return err
	}

	accent.Println("\n== DASHBOARD ==")
	fmt.Printf("Gold: %s\n", comma(d.Gold))

	fmt.Println()
	accent.Println("Inventory")
	if len(d.Inventory) == 0 {
		printInfo("No goods held yet.")
	} else {
		fmt.Printf("%-20s %-10s %12s\n", "GOOD", "LOCATION", "QTY")
		for _, inv := range d.Inventory {
			fmt.Printf("%-20s %-10s %12s\n",
				truncate(inv.ItemKey, 20),
				inv.Location,
				comma(inv.Quantity),
			)
		}
	}

	fmt.Println()
	accent.Println("Recent Ledger")
	if len(d.Recent) == 0 {
		printInfo("No ledger entries yet.")
	} else {
		fmt.Printf("%-20s %-20s %-14s %12s\n", "TIME", "KIND", "GOOD", "DELTA")
		for _, e := range d.Recent {
			good := e.ItemKey
			if good == "" {
				good = "gold"
			}
			fmt.Printf("%-20s %-20s %-14s %12s\n",
				e.CreatedAt.Local().Format("2006-01-02 15:04"),
				truncate(e.Kind, 20),
				truncate(good, 14),
				colorizeDelta(e.Delta),
			)
		}
	}
	fmt.Println()
	return nil
}

func renderListings(raw map[string]any) error {
	payload, err := decodeInto[listingsPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== AUCTION MARKET ==")
	if len(payload.Listings) == 0 {
		printInfo("No active listings.")
		return nil
	}
	fmt.Printf("%-6s %-20s %10s %12s %-20s\n", "ID", "GOOD", "QTY", "PRICE", "LISTED")
	for _, l := range payload.Listings {
		fmt.Printf("%-6d %-20s %10s %12s %-20s\n",
			l.ID,
			truncate(l.ItemKey, 20),
			comma(l.Quantity),
			comma(l.PriceGold),
			l.CreatedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	fmt.Println()
	return nil
}

func renderListingCreated(raw map[string]any) error {
	l, err := decodeInto[economy.ListingView](raw)
	if err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("Listing #%d created: %s x%s at %s gold each.",
		l.ID, l.ItemKey, comma(l.Quantity), comma(l.PriceGold)))
	return nil
}

func renderListingCancelled(raw map[string]any) error {
	l, err := decodeInto[economy.ListingView](raw)
	if err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("Listing #%d cancelled. %s x%s returned to your warehouse.",
		l.ID, l.ItemKey, comma(l.Quantity)))
	return nil
}

func renderBuyResult(raw map[string]any) error {
	out, err := decodeInto[economy.BuyResult](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== PURCHASE ==")
	fmt.Printf("Good:      %s\n", out.Listing.ItemKey)
	fmt.Printf("Paid:      %s gold\n", comma(out.PaidGold))
	fmt.Printf("Your gold: %s\n", comma(out.BuyerGold))
	fmt.Println()
	return nil
}

func renderGoods(raw map[string]any) error {
	payload, err := decodeInto[goodsPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== GOODS ==")
	if len(payload.Goods) == 0 {
		printInfo("No goods found.")
		return nil
	}
	fmt.Printf("%-20s %-24s %12s\n", "KEY", "NAME", "PRICE")
	for _, g := range payload.Goods {
		fmt.Printf("%-20s %-24s %12s\n",
			g.ItemKey,
			truncate(g.DisplayName, 24),
			comma(g.PriceGold),
		)
	}
	fmt.Println()
	return nil
}

func renderPriceTicks(raw map[string]any, itemKey string) error {
	payload, err := decodeInto[ticksPayload](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== %s PRICE HISTORY ==\n", strings.ToUpper(itemKey))
	if len(payload.Ticks) == 0 {
		printInfo("No price ticks recorded yet.")
		return nil
	}
	first := payload.Ticks[0].PriceGold
	last := payload.Ticks[len(payload.Ticks)-1].PriceGold
	fmt.Printf("Trend: %s gold\n\n", colorizeDelta(last-first))
	fmt.Printf("%-20s %12s\n", "TIME", "PRICE")
	start := 0
	if len(payload.Ticks) > 12 {
		start = len(payload.Ticks) - 12
	}
	for _, t := range payload.Ticks[start:] {
		fmt.Printf("%-20s %12s\n", t.TickAt.Local().Format("2006-01-02 15:04"), comma(t.PriceGold))
	}
	fmt.Println()
	return nil
}

func renderMissions(raw map[string]any) error {
	payload, err := decodeInto[missionsPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== SERVER MISSIONS ==")
	if len(payload.Missions) == 0 {
		printInfo("No missions scheduled.")
		return nil
	}
	for _, m := range payload.Missions {
		fmt.Println()
		accent.Printf("#%d %s [%s]\n", m.ID, m.Title, m.Status)
		fmt.Printf("Window: %s -> %s\n",
			m.StartsAt.Local().Format("2006-01-02 15:04"),
			m.EndsAt.Local().Format("2006-01-02 15:04"))
		if m.ReachedTier != "" {
			fmt.Printf("Tier:   %s\n", m.ReachedTier)
		}
		keys := make([]string, 0, len(m.Requirements))
		for k := range m.Requirements {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Printf("%-20s %12s %12s\n", "GOOD", "PROGRESS", "REQUIRED")
		for _, k := range keys {
			fmt.Printf("%-20s %12s %12s\n", k, comma(m.Progress[k]), comma(m.Requirements[k]))
		}
	}
	fmt.Println()
	return nil
}

func renderContributeResult(raw map[string]any) error {
	out, err := decodeInto[economy.ContributeResult](raw)
	if err != nil {
		return err
	}
	parts := make([]string, 0, len(out.Contributed))
	keys := make([]string, 0, len(out.Contributed))
	for k := range out.Contributed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s x%s", k, comma(out.Contributed[k])))
	}
	printSuccess(fmt.Sprintf("Contributed %s to mission #%d.", strings.Join(parts, ", "), out.MissionID))
	return nil
}

func renderRankings(raw map[string]any, missionID int64) error {
	payload, err := decodeInto[rankingsPayload](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== MISSION #%d RANKINGS ==\n", missionID)
	if len(payload.Rankings) == 0 {
		printInfo("No contributions ranked yet.")
		return nil
	}
	fmt.Printf("%-6s %-20s %14s\n", "RANK", "PLAYER", "SCORE")
	for _, row := range payload.Rankings {
		name := row.Username
		if name == "" {
			name = row.ActorID
		}
		fmt.Printf("%-6d %-20s %14s\n", row.Rank, truncate(name, 20), comma(row.Score))
	}
	fmt.Println()
	return nil
}

func renderSettleResult(raw map[string]any) error {
	out, err := decodeInto[economy.SettleResult](raw)
	if err != nil {
		return err
	}
	if out.AlreadySettled {
		printInfo(fmt.Sprintf("Mission #%d was already settled.", out.MissionID))
	}
	tier := out.ReachedTier
	if tier == "" {
		tier = "none"
	}
	accent.Printf("\n== MISSION #%d SETTLED ==\n", out.MissionID)
	fmt.Printf("Tier reached: %s\n", tier)
	fmt.Printf("Participants: %d\n", out.Participants)
	fmt.Printf("Gold paid:    %s\n", comma(out.GoldPaid))
	fmt.Println()
	return nil
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func colorizeDelta(v int64) string {
	text := comma(v)
	if v > 0 {
		text = "+" + text
	}
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.WriteString(sign)
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
