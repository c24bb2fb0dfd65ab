package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cl "tradewinds/internal/cli"
	"tradewinds/internal/config"
	"tradewinds/internal/syncq"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "twc",
		Short:        "Tradewinds CLI game client",
		SilenceUsage: true,
	}

	root.AddCommand(
		newSignupCmd(&apiBase),
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newDashCmd(&apiBase),
		newSyncCmd(&apiBase),
		newMarketCmd(&apiBase),
		newGoodsCmd(&apiBase),
		newPricesCmd(&apiBase),
		newMissionsCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func newSignupCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Create a Tradewinds account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptRequired("Password")
			if err != nil {
				return err
			}
			username, err := promptOptional("Username (optional)")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			session, err := client.Signup(ctx, email, password, username)
			if err != nil {
				return err
			}
			if strings.TrimSpace(session.AccessToken) == "" {
				printWarn("Signup created. Verify email, then run `twc login`.")
				return nil
			}
			if err := cl.SaveSession(cl.Session{
				AccessToken:  session.AccessToken,
				RefreshToken: session.RefreshToken,
				Email:        session.User.Email,
				UserID:       session.User.ID,
			}); err != nil {
				return err
			}
			printSuccess("Signup complete. Session saved.")
			return nil
		},
	}
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Login to Tradewinds",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptRequired("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			session, err := client.Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.Session{
				AccessToken:  session.AccessToken,
				RefreshToken: session.RefreshToken,
				Email:        session.User.Email,
				UserID:       session.User.ID,
			}); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear local session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newDashCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dash",
		Short: "Show your warehouse, gold, and recent ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			out, err := client.Dashboard(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			return renderDashboard(out)
		},
	}
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay locally queued offline writes to cloud",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			remaining := make([]syncq.Command, 0, len(queue))
			success := 0
			for _, q := range queue {
				_, err := client.Do(ctx, q.Method, q.Path, sess.AccessToken, q.Body, q.IdempotencyKey)
				if err != nil {
					remaining = append(remaining, q)
					printError(fmt.Sprintf("Sync failed for %s %s: %v", q.Method, q.Path, err))
					continue
				}
				success++
			}
			if err := syncq.Save(remaining); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d remaining=%d", success, len(remaining)))
			return nil
		},
	}
}

func newMarketCmd(apiBase *string) *cobra.Command {
	market := &cobra.Command{
		Use:   "market",
		Short: "Auction market commands",
	}
	market.AddCommand(newMarketListCmd(apiBase))
	market.AddCommand(newMarketSellCmd(apiBase))
	market.AddCommand(newMarketBuyCmd(apiBase))
	market.AddCommand(newMarketCancelCmd(apiBase))
	return market
}

func newMarketListCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list [item_key]",
		Short: "List active listings, optionally for one good",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			itemKey := ""
			if len(args) > 0 {
				itemKey = strings.ToLower(strings.TrimSpace(args[0]))
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			out, err := client.ListListings(ctx, sess.AccessToken, itemKey)
			if err != nil {
				return err
			}
			return renderListings(out)
		},
	}
}

func newMarketSellCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sell [item_key]",
		Short: "Escrow goods from your warehouse into a listing",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			itemKey, err := itemKeyFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			qty, err := promptInt64("Quantity", 1)
			if err != nil {
				return err
			}
			price, err := promptInt64("Price per unit (gold)", 1)
			if err != nil {
				return err
			}

			idem := uuid.NewString()
			body := map[string]any{
				"item_key":   itemKey,
				"quantity":   qty,
				"price_gold": price,
			}
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.CreateListing(ctx, sess.AccessToken, itemKey, qty, price, idem)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Method:         "POST",
					Path:           "/v1/market/listings",
					Body:           body,
					IdempotencyKey: idem,
				})
			}
			return renderListingCreated(out)
		},
	}
}

func newMarketBuyCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "buy [listing_id]",
		Short: "Buy from a listing",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			id, err := int64FromArgOrPrompt(args, 0, "Listing ID")
			if err != nil {
				return err
			}
			qty, err := promptInt64("Quantity", 1)
			if err != nil {
				return err
			}

			idem := uuid.NewString()
			body := map[string]any{"quantity": qty}
			path := fmt.Sprintf("/v1/market/listings/%d/buy", id)
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.BuyListing(ctx, sess.AccessToken, id, qty, idem)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Method:         "POST",
					Path:           path,
					Body:           body,
					IdempotencyKey: idem,
				})
			}
			return renderBuyResult(out)
		},
	}
}

func newMarketCancelCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [listing_id]",
		Short: "Cancel your listing and reclaim escrowed goods",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			id, err := int64FromArgOrPrompt(args, 0, "Listing ID")
			if err != nil {
				return err
			}
			idem := uuid.NewString()
			path := fmt.Sprintf("/v1/market/listings/%d/cancel", id)
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.CancelListing(ctx, sess.AccessToken, id, idem)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Method:         "POST",
					Path:           path,
					Body:           map[string]any{},
					IdempotencyKey: idem,
				})
			}
			return renderListingCancelled(out)
		},
	}
}

func newGoodsCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "goods",
		Short: "List tradable goods and current prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			out, err := client.ListGoods(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			return renderGoods(out)
		},
	}
}

func newPricesCmd(apiBase *string) *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "prices [item_key]",
		Short: "Show the price history of a good",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			itemKey, err := itemKeyFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			out, err := client.PriceTicks(ctx, sess.AccessToken, itemKey, strings.TrimSpace(since))
			if err != nil {
				return err
			}
			return renderPriceTicks(out, itemKey)
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "only ticks after this RFC3339 timestamp")
	return cmd
}

func newMissionsCmd(apiBase *string) *cobra.Command {
	missions := &cobra.Command{
		Use:     "missions",
		Short:   "Server mission commands",
		Aliases: []string{"mission"},
	}
	missions.AddCommand(newMissionsListCmd(apiBase))
	missions.AddCommand(newMissionsContributeCmd(apiBase))
	missions.AddCommand(newMissionsRankingsCmd(apiBase))
	missions.AddCommand(newMissionsSettleCmd(apiBase))
	return missions
}

func newMissionsListCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled and active missions",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			out, err := client.ListMissions(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			return renderMissions(out)
		},
	}
}

func newMissionsContributeCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "contribute [mission_id]",
		Short: "Donate warehouse goods toward a mission",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			id, err := int64FromArgOrPrompt(args, 0, "Mission ID")
			if err != nil {
				return err
			}
			itemKey, err := promptItemKey("Good to donate")
			if err != nil {
				return err
			}
			qty, err := promptInt64("Quantity", 1)
			if err != nil {
				return err
			}
			amounts := map[string]int64{itemKey: qty}

			idem := uuid.NewString()
			path := fmt.Sprintf("/v1/missions/%d/contribute", id)
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.Contribute(ctx, sess.AccessToken, id, amounts, idem)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Method:         "POST",
					Path:           path,
					Body:           map[string]any{"amounts": amounts},
					IdempotencyKey: idem,
				})
			}
			return renderContributeResult(out)
		},
	}
}

func newMissionsRankingsCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rankings [mission_id]",
		Short: "Show the mission contribution leaderboard",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			id, err := int64FromArgOrPrompt(args, 0, "Mission ID")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			out, err := client.Rankings(ctx, sess.AccessToken, id)
			if err != nil {
				return err
			}
			return renderRankings(out, id)
		},
	}
}

func newMissionsSettleCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "settle [mission_id]",
		Short: "Settle a mission and pay rewards (admin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			id, err := int64FromArgOrPrompt(args, 0, "Mission ID")
			if err != nil {
				return err
			}
			idem := uuid.NewString()
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.SettleMission(ctx, sess.AccessToken, id, idem)
			if err != nil {
				return err
			}
			return renderSettleResult(out)
		},
	}
}

// Structured API rejections are surfaced directly; anything else looks like a
// network failure and the write goes into the offline queue for `twc sync`.
func queueOnNetworkError(err error, cmd syncq.Command) error {
	if err == nil {
		return nil
	}
	if isAPIStructuredError(err) {
		return err
	}
	if qErr := syncq.Push(cmd); qErr != nil {
		return fmt.Errorf("request failed and could not be queued: %w", err)
	}
	printWarn(fmt.Sprintf("Offline: queued %s %s for `twc sync`.", cmd.Method, cmd.Path))
	return nil
}

func isAPIStructuredError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "api status")
}

func itemKeyFromArgsOrPrompt(args []string) (string, error) {
	if len(args) > 0 {
		return normalizeItemKey(args[0])
	}
	return promptItemKey("Item key")
}

func int64FromArgOrPrompt(args []string, idx int, label string) (int64, error) {
	if len(args) > idx {
		v, err := strconv.ParseInt(strings.TrimSpace(args[idx]), 10, 64)
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("invalid %s", strings.ToLower(label))
		}
		return v, nil
	}
	return promptInt64(label, 1)
}
