package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"venturegate/internal/app"
	"venturegate/internal/checkpoint"
	"venturegate/internal/domain"
	"venturegate/internal/engine"
	"venturegate/internal/repo"
)

func runCmd() *cobra.Command {
	r := &cobra.Command{
		Use:   "run",
		Short: "Manage validation runs",
		Long:  "A run carries one idea through onboarding, discovery, desirability, feasibility and viability, pausing for a human at every checkpoint.",
	}
	r.AddCommand(runKickoffCmd())
	r.AddCommand(runStepCmd())
	r.AddCommand(runDriveCmd())
	r.AddCommand(runStatusCmd())
	r.AddCommand(runListCmd())
	r.AddCommand(runRestartCmd())
	return r
}

func runKickoffCmd() *cobra.Command {
	var req engine.KickoffRequest
	var drive bool
	cmd := &cobra.Command{
		Use:   "kickoff",
		Short: "Start a validation run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				run, err := a.Engine.Kickoff(ctx, req, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if drive {
					if err := a.Drive(ctx, run.RunID); err != nil {
						return err
					}
					return printStatus(ctx, a, run.RunID)
				}
				if viper.GetBool("json") {
					return printJSON(run)
				}
				fmt.Printf("Started run %s (%s)\n", run.RunID, run.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&req.UserID, "user", "", "founder user id")
	cmd.Flags().StringVar(&req.EntrepreneurInput, "input", "", "the idea, in the founder's words")
	cmd.Flags().StringVar(&req.SessionID, "session", "", "session id")
	cmd.Flags().BoolVar(&drive, "drive", true, "run phases until the first checkpoint")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runStepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "step <run-id>",
		Short: "Execute the current phase once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Step(ctx, args[0])
				if err != nil {
					return err
				}
				out := map[string]any{
					"run_id":   res.Run.RunID,
					"phase":    res.Phase.Name(),
					"decision": res.Decision,
					"status":   res.Run.Status,
					"continue": res.Continue,
				}
				if res.Checkpoint != nil {
					out["checkpoint"] = res.Checkpoint.Name
				}
				if res.Failure != nil {
					out["failure"] = res.Failure.Message
				}
				if res.Gate != nil {
					out["gate"] = res.Gate
				}
				return printJSONOrValue(out)
			})
		},
	}
}

func runDriveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drive <run-id>",
		Short: "Execute phases until the run pauses or finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				if _, err := a.Engine.Drive(ctx, args[0]); err != nil {
					return err
				}
				return printStatus(ctx, a, args[0])
			})
		},
	}
}

func runStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show run status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				return printStatus(ctx, a, args[0])
			})
		},
	}
}

func printStatus(ctx context.Context, a *app.App, runID string) error {
	view, err := a.Engine.Status(ctx, runID)
	if err != nil {
		return err
	}
	if viper.GetBool("json") {
		return printJSON(view)
	}
	fmt.Printf("Run: %s (%s)\n", view.RunID, view.Status)
	fmt.Printf("Phase: %d %s\n", view.CurrentPhase, view.PhaseName)
	for _, s := range []struct{ name, value string }{
		{"Desirability", view.DesirabilitySignal},
		{"Feasibility", view.FeasibilitySignal},
		{"Viability", view.ViabilitySignal},
		{"Pivot", view.PivotRecommendation},
		{"Final decision", view.FinalDecision},
		{"Error", view.ErrorMessage},
	} {
		if s.value != "" {
			fmt.Printf("%s: %s\n", s.name, s.value)
		}
	}
	if view.HITLPending != nil {
		cp := view.HITLPending
		fmt.Printf("Waiting on: %s - %s\n", cp.Name, cp.Title)
		for _, o := range cp.Options {
			marker := " "
			if o.ID == cp.RecommendedOption {
				marker = "*"
			}
			fmt.Printf("  %s %s: %s\n", marker, o.ID, o.Label)
		}
	} else if view.HITLState != "" {
		fmt.Printf("HITL: %s\n", view.HITLState)
	}
	if len(view.Progress) > 0 {
		tw := newTable()
		tw.AppendHeader(table.Row{"Phase", "Status", "Decision", "Message", "At"})
		for _, p := range view.Progress {
			tw.AppendRow(table.Row{p.PhaseName, p.Status, p.Decision, p.Message, p.CreatedAt})
		}
		tw.Render()
	}
	return nil
}

func runListCmd() *cobra.Command {
	var f checkpoint.ListFilter
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				f.Status = domain.RunStatus(status)
				runs, err := a.Engine.Checkpoints.Runs.List(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Run", "Project", "User", "Status", "Phase", "HITL", "Updated"})
				for _, r := range runs {
					tw.AppendRow(table.Row{r.RunID, r.ProjectID, r.UserID, r.Status, r.CurrentPhase.Name(), r.HITLState, r.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project filter")
	cmd.Flags().StringVar(&f.UserID, "user", "", "user filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max runs")
	return cmd
}

func runRestartCmd() *cobra.Command {
	var phaseName, reason string
	var drive bool
	cmd := &cobra.Command{
		Use:   "restart <run-id>",
		Short: "Rewind a run to an earlier phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			phase, err := domain.ParsePhase(phaseName)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				run, err := a.Engine.Restart(ctx, args[0], phase, viper.GetString("actor-id"), reason)
				if err != nil {
					return err
				}
				if drive {
					if err := a.Drive(ctx, run.RunID); err != nil {
						return err
					}
				}
				return printStatus(ctx, a, run.RunID)
			})
		},
	}
	cmd.Flags().StringVar(&phaseName, "phase", "", "phase to restart from")
	cmd.Flags().StringVar(&reason, "reason", "", "why the run is restarted")
	cmd.Flags().BoolVar(&drive, "drive", true, "run phases until the next checkpoint")
	_ = cmd.MarkFlagRequired("phase")
	return cmd
}

func hitlCmd() *cobra.Command {
	h := &cobra.Command{
		Use:   "hitl",
		Short: "Human approval checkpoints",
	}
	h.AddCommand(hitlListCmd())
	h.AddCommand(hitlApproveCmd())
	h.AddCommand(hitlSweepCmd())
	return h
}

func hitlListCmd() *cobra.Command {
	var f repo.CheckpointFilter
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List checkpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				f.Status = domain.CheckpointStatus(status)
				items, err := a.Engine.Repo.ListCheckpoints(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Run", "Checkpoint", "Status", "Recommended", "Decision", "Decided by", "Created"})
				for _, cp := range items {
					tw.AppendRow(table.Row{cp.RunID, cp.Name, cp.Status, cp.RecommendedOption, cp.Decision, cp.DecidedBy, cp.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.RunID, "run", "", "run filter")
	cmd.Flags().StringVar(&f.Name, "name", "", "checkpoint name filter")
	cmd.Flags().StringVar(&status, "status", "pending", "status filter (empty for all)")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max checkpoints")
	return cmd
}

func hitlApproveCmd() *cobra.Command {
	var req engine.ApproveRequest
	var roles string
	var drive bool
	cmd := &cobra.Command{
		Use:   "approve <run-id>",
		Short: "Resolve the pending checkpoint of a run",
		Long:  "--decision takes approved, rejected or the id of one of the checkpoint options (e.g. segment_pivot, override_proceed).",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.RunID = args[0]
			req.ActorID = viper.GetString("actor-id")
			req.Roles = splitList(roles)
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				if req.Checkpoint == "" {
					cp, err := a.Engine.Checkpoints.Pending(ctx, req.RunID)
					if err != nil {
						return err
					}
					if cp == nil {
						return fmt.Errorf("run %s has no pending checkpoint", req.RunID)
					}
					req.Checkpoint = cp.Name
				}
				res, err := a.Engine.Approve(ctx, req)
				if err != nil {
					return err
				}
				if res.Schedule && drive {
					if err := a.Drive(ctx, req.RunID); err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s: %s", req.Checkpoint, res.Status)
				if res.Option != "" {
					fmt.Printf(" (%s)", res.Option)
				}
				fmt.Println()
				if res.Schedule && drive {
					return printStatus(ctx, a, req.RunID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Checkpoint, "checkpoint", "", "checkpoint name (default: the pending one)")
	cmd.Flags().StringVar(&req.Decision, "decision", "approved", "approved, rejected or an option id")
	cmd.Flags().StringVar(&req.Feedback, "feedback", "", "feedback passed to the next crew run")
	cmd.Flags().StringVar(&roles, "roles", "", "comma-separated roles of the decider")
	cmd.Flags().BoolVar(&drive, "drive", true, "run phases until the next checkpoint")
	return cmd
}

func hitlSweepCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale checkpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				if ttl <= 0 {
					ttl = a.Config.Checkpoints.TTL
				}
				expired, err := a.Engine.Checkpoints.Sweep(ctx, ttl)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(expired)
				}
				names := make([]string, 0, len(expired))
				for _, cp := range expired {
					names = append(names, cp.RunID+"/"+cp.Name)
				}
				fmt.Printf("expired %d checkpoint(s) older than %s %s\n", len(expired), ttl, strings.Join(names, " "))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "age after which pending checkpoints expire (default from config)")
	return cmd
}

func policyCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "policy",
		Short: "Per-user gate policies",
	}
	p.AddCommand(policyGetCmd())
	p.AddCommand(policySetCmd())
	p.AddCommand(policyListCmd())
	return p
}

func policyGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <user-id> <gate>",
		Short: "Show the effective policy of a gate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := domain.ParseGate(strings.ToUpper(args[1]))
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				return printJSONOrValue(a.Engine.Policies.For(ctx, args[0], g))
			})
		},
	}
}

func policyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <user-id>",
		Short: "List stored policies of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListGatePolicies(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Gate", "Min experiments", "Weak", "Medium", "Strong", "Override roles", "Approval", "Updated"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.Gate, p.MinExperiments, p.MinWeakEvidence, p.MinMediumEvidence, p.MinStrongEvidence, strings.Join(p.OverrideRoles, ","), p.RequiresApproval, p.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func policySetCmd() *cobra.Command {
	var minExp, weak, medium, strong int
	var fitTypes, overrideRoles string
	var approval bool
	cmd := &cobra.Command{
		Use:   "set <user-id> <gate>",
		Short: "Store a gate policy; unset flags keep the effective values",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := domain.ParseGate(strings.ToUpper(args[1]))
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				p := a.Engine.Policies.For(ctx, args[0], g)
				p.UserID = args[0]
				flags := cmd.Flags()
				if flags.Changed("min-experiments") {
					p.MinExperiments = minExp
				}
				if flags.Changed("min-weak") {
					p.MinWeakEvidence = weak
				}
				if flags.Changed("min-medium") {
					p.MinMediumEvidence = medium
				}
				if flags.Changed("min-strong") {
					p.MinStrongEvidence = strong
				}
				if flags.Changed("fit-types") {
					p.RequiredFitTypes = splitList(fitTypes)
				}
				if flags.Changed("override-roles") {
					p.OverrideRoles = splitList(overrideRoles)
				}
				if flags.Changed("requires-approval") {
					p.RequiresApproval = approval
				}
				if err := domain.Validate(p); err != nil {
					return err
				}
				p.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
				if err := a.Engine.Repo.UpsertGatePolicy(ctx, p); err != nil {
					return err
				}
				return printJSONOrValue(p)
			})
		},
	}
	cmd.Flags().IntVar(&minExp, "min-experiments", 0, "minimum experiments run")
	cmd.Flags().IntVar(&weak, "min-weak", 0, "minimum weak evidence items")
	cmd.Flags().IntVar(&medium, "min-medium", 0, "minimum medium evidence items")
	cmd.Flags().IntVar(&strong, "min-strong", 0, "minimum strong evidence items")
	cmd.Flags().StringVar(&fitTypes, "fit-types", "", "comma-separated required fit types")
	cmd.Flags().StringVar(&overrideRoles, "override-roles", "", "comma-separated roles allowed to override")
	cmd.Flags().BoolVar(&approval, "requires-approval", true, "require human approval at the gate")
	return cmd
}
