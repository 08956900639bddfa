package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"venturegate/internal/app"
	"venturegate/internal/bandit"
	"venturegate/internal/budget"
	venturegatesdk "venturegate/sdk/go"
)

func budgetCmd() *cobra.Command {
	b := &cobra.Command{
		Use:   "budget",
		Short: "Ad spend guardrails and budget pools",
		Long:  "Spend is classified ok, warning, kill_switch or critical by utilization. Hard mode blocks kill_switch spend; critical always blocks.",
	}
	b.AddCommand(budgetCheckCmd())
	b.AddCommand(budgetOverrideCmd())
	b.AddCommand(budgetPoolCmd())
	b.AddCommand(budgetFundCmd())
	b.AddCommand(budgetAllocateCmd())
	b.AddCommand(budgetCampaignsCmd())
	b.AddCommand(budgetSpendCmd())
	b.AddCommand(budgetAuditCmd())
	return b
}

func budgetCheckCmd() *cobra.Command {
	var req budget.CheckRequest
	var mode string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate a proposed spend (audited)",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Mode = budget.Mode(mode)
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				c, err := a.Budget.CheckBudget(ctx, req)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				verdict := "allowed"
				if !c.Allowed {
					verdict = "blocked"
				}
				fmt.Printf("%s (%s, %.1f%%, %s mode): %s\n", verdict, c.Tier, c.Percent*100, c.Mode, c.Message)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.UserID, "user", "", "user id")
	cmd.Flags().StringVar(&req.CampaignID, "campaign", "", "campaign id")
	cmd.Flags().Float64Var(&req.CurrentSpend, "current", 0, "spend so far")
	cmd.Flags().Float64Var(&req.ProposedSpend, "proposed", 0, "proposed additional spend")
	cmd.Flags().Float64Var(&req.Limit, "limit", 0, "budget limit")
	cmd.Flags().StringVar(&mode, "mode", "", "hard or soft (default from config)")
	_ = cmd.MarkFlagRequired("limit")
	return cmd
}

func budgetOverrideCmd() *cobra.Command {
	var req budget.OverrideRequest
	var mode string
	cmd := &cobra.Command{
		Use:   "override",
		Short: "Record an audited guardrail override",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Mode = budget.Mode(mode)
			if req.ActorID == "" {
				req.ActorID = viper.GetString("actor-id")
			}
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				o, err := a.Budget.Override(ctx, req)
				if err != nil {
					return err
				}
				return printJSONOrValue(o)
			})
		},
	}
	cmd.Flags().StringVar(&req.UserID, "user", "", "user id")
	cmd.Flags().StringVar(&req.CampaignID, "campaign", "", "campaign id")
	cmd.Flags().StringVar(&req.ActorID, "actor", "", "overriding actor (default --actor-id)")
	cmd.Flags().StringVar(&req.ActorType, "actor-type", "", "actor type, e.g. human_founder or admin")
	cmd.Flags().StringVar(&req.Reason, "reason", "", "rationale for the override")
	cmd.Flags().StringVar(&mode, "mode", "", "hard or soft (default from config)")
	_ = cmd.MarkFlagRequired("actor-type")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func budgetPoolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pool <user-id>",
		Short: "Show a user's budget pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				p, err := a.Budget.Pool(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrValue(p)
			})
		},
	}
}

func budgetFundCmd() *cobra.Command {
	var amount, rollover float64
	var expires string
	cmd := &cobra.Command{
		Use:   "fund <user-id>",
		Short: "Add funds to a user's budget pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if expires != "" {
				if _, err := time.Parse(time.RFC3339, expires); err != nil {
					return fmt.Errorf("--rollover-expires must be RFC3339: %w", err)
				}
			}
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				p, err := a.Budget.FundPool(ctx, args[0], amount, rollover, expires)
				if err != nil {
					return err
				}
				return printJSONOrValue(p)
			})
		},
	}
	cmd.Flags().Float64Var(&amount, "amount", 0, "amount to add")
	cmd.Flags().Float64Var(&rollover, "rollover", 0, "rollover amount")
	cmd.Flags().StringVar(&expires, "rollover-expires", "", "rollover expiry (RFC3339)")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func budgetAllocateCmd() *cobra.Command {
	var req budget.AllocationRequest
	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Allocate a campaign budget from the pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				c, err := a.Budget.AllocateCampaign(ctx, req)
				if err != nil {
					return err
				}
				return printJSONOrValue(c)
			})
		},
	}
	cmd.Flags().StringVar(&req.UserID, "user", "", "user id")
	cmd.Flags().StringVar(&req.RunID, "run", "", "validation run id")
	cmd.Flags().StringVar(&req.Platform, "platform", "", "ad platform")
	cmd.Flags().Float64Var(&req.Budget, "budget", 0, "campaign budget")
	cmd.Flags().Float64Var(&req.DailyBudget, "daily", 0, "daily budget")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("platform")
	_ = cmd.MarkFlagRequired("budget")
	return cmd
}

func budgetCampaignsCmd() *cobra.Command {
	var user, status string
	cmd := &cobra.Command{
		Use:   "campaigns",
		Short: "List campaigns of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				items, err := a.Budget.Campaigns(ctx, user, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Platform", "Status", "Budget", "Daily", "Spent", "External"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Platform, c.Status, c.Budget, c.DailyBudget, c.Spent, c.ExternalID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func budgetSpendCmd() *cobra.Command {
	var user, campaign string
	var amount float64
	cmd := &cobra.Command{
		Use:   "spend",
		Short: "Record spend that already happened",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				p, err := a.Budget.RecordSpend(ctx, user, campaign, amount)
				if err != nil {
					return err
				}
				return printJSONOrValue(p)
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVar(&campaign, "campaign", "", "campaign id")
	cmd.Flags().Float64Var(&amount, "amount", 0, "amount spent")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func budgetAuditCmd() *cobra.Command {
	var user string
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show audited guardrail decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				items, err := a.Budget.Audit(ctx, user, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Campaign", "Tier", "Mode", "Util %", "Allowed", "At"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.CampaignID, d.Tier, d.Mode, fmt.Sprintf("%.1f", d.Utilization*100), d.Allowed, d.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max decisions")
	return cmd
}

func banditCmd() *cobra.Command {
	b := &cobra.Command{
		Use:   "bandit",
		Short: "Experiment policy selection",
	}
	b.AddCommand(&cobra.Command{
		Use:   "select <experiment-type>",
		Short: "Pick a policy with UCB",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				sel, err := a.Bandit.Select(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sel)
				}
				fmt.Printf("%s: %s (%s)\n", sel.ExperimentType, sel.Policy, sel.Reason)
				return nil
			})
		},
	})
	b.AddCommand(banditRecordCmd())
	b.AddCommand(&cobra.Command{
		Use:   "weights <experiment-type>",
		Short: "Show per-policy statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				weights, err := a.Bandit.Weights(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(weights)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Policy", "Samples", "Mean reward", "UCB"})
				for _, w := range weights {
					tw.AppendRow(table.Row{w.Policy, w.SampleCount, fmt.Sprintf("%.3f", w.MeanReward), fmt.Sprintf("%.3f", w.UCBScore)})
				}
				tw.Render()
				return nil
			})
		},
	})
	return b
}

func banditRecordCmd() *cobra.Command {
	var in bandit.OutcomeInput
	var reward float64
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Append an experiment outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("reward") {
				in.Reward = &reward
			}
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				o, err := a.Bandit.RecordOutcome(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrValue(o)
			})
		},
	}
	cmd.Flags().StringVar(&in.ExperimentType, "type", "", "experiment type")
	cmd.Flags().StringVar(&in.Policy, "policy", "", "policy used")
	cmd.Flags().StringVar(&in.ExperimentID, "experiment", "", "experiment id")
	cmd.Flags().StringVar(&in.PrimaryMetric, "metric", "", "primary metric name")
	cmd.Flags().Float64Var(&in.PrimaryValue, "value", 0, "primary metric value")
	cmd.Flags().Float64Var(&reward, "reward", 0, "explicit reward in [0,1] (default derived from the metric)")
	return cmd
}

func remoteCmd() *cobra.Command {
	var baseURL string
	r := &cobra.Command{
		Use:   "remote",
		Short: "Talk to a running venturegate server",
		Long:  "Uses VENTUREGATE_URL and VENTUREGATE_API_TOKEN; --actor-id is sent as X-Actor-Id.",
	}
	r.PersistentFlags().StringVar(&baseURL, "url", "", "API base URL including base path (default $VENTUREGATE_URL)")
	client := func() (*venturegatesdk.Client, error) {
		u := baseURL
		if u == "" {
			u = viper.GetString("url")
		}
		if u == "" {
			return nil, fmt.Errorf("--url or VENTUREGATE_URL is required")
		}
		c := venturegatesdk.New(u, viper.GetString("api_token"))
		c.ActorID = viper.GetString("actor-id")
		return c, nil
	}
	r.AddCommand(&cobra.Command{
		Use:   "status <run-id>",
		Short: "Fetch run status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(st)
		},
	})
	r.AddCommand(&cobra.Command{
		Use:   "pending",
		Short: "List pending checkpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			items, err := c.Pending(cmd.Context(), 0)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"Run", "Checkpoint", "Recommended", "Created"})
			for _, cp := range items {
				tw.AppendRow(table.Row{cp.RunID, cp.Name, cp.RecommendedOption, cp.CreatedAt})
			}
			tw.Render()
			return nil
		},
	})
	var checkpoint, decision, feedback string
	approve := &cobra.Command{
		Use:   "approve <run-id>",
		Short: "Resolve a checkpoint on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			res, err := c.Approve(cmd.Context(), args[0], checkpoint, decision, feedback)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	approve.Flags().StringVar(&checkpoint, "checkpoint", "", "checkpoint name")
	approve.Flags().StringVar(&decision, "decision", "approved", "approved, rejected or an option id")
	approve.Flags().StringVar(&feedback, "feedback", "", "feedback")
	_ = approve.MarkFlagRequired("checkpoint")
	r.AddCommand(approve)
	return r
}
