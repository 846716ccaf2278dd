package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/speaknet/speakd/internal/app/agents"
	"github.com/speaknet/speakd/internal/daemon"
	"github.com/speaknet/speakd/internal/infra/sqlite"
)

// ─── Agent CLI ──────────────────────────────────────────────────────────────
// Operator-side agent management. Registration normally happens over the
// HTTP API; these commands exist for bootstrapping and local setups where
// creating an agent directly against the database is simpler.

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.AddCommand(agentCreateCmd)
	agentCmd.AddCommand(agentStatsCmd)
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage speak agents",
	Long: `Manage speak agents directly against the local database.
The login code printed by 'agent create' is shown exactly once; only its
hash is stored.`,
}

// ─── agent create ───────────────────────────────────────────────────────────

var agentCreateCmd = &cobra.Command{
	Use:   "create [NAME]",
	Short: "Create an agent and print its one-time login code",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAgentCreate,
}

func runAgentCreate(cmd *cobra.Command, args []string) error {
	name := ""
	if len(args) == 1 {
		name = strings.TrimSpace(args[0])
	}

	cfg, err := daemon.LoadConfig(configPath)
	if err != nil {
		return err
	}
	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	svc := agents.New(db, 0)
	reg, err := svc.Register(cmd.Context(), name)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Agent created.\n\n")
	fmt.Fprintf(os.Stdout, "  agent id:   %s\n", reg.AgentID)
	fmt.Fprintf(os.Stdout, "  agent name: %s\n", reg.AgentName)
	fmt.Fprintf(os.Stdout, "  login code: %s\n\n", reg.LoginCode)
	fmt.Fprintln(os.Stdout, "Store the login code now. It is shown once and cannot be recovered.")
	return nil
}

// ─── agent stats ────────────────────────────────────────────────────────────

var agentStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print ledger, order, and job counters from the local database",
	RunE:  runAgentStats,
}

func runAgentStats(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig(configPath)
	if err != nil {
		return err
	}
	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	accounts, totalChars, err := db.LedgerTotals(ctx)
	if err != nil {
		return fmt.Errorf("ledger totals: %w", err)
	}
	orderCounts, err := db.OrderCounts(ctx)
	if err != nil {
		return fmt.Errorf("order counts: %w", err)
	}
	jobCounts, err := db.JobCounts(ctx)
	if err != nil {
		return fmt.Errorf("job counts: %w", err)
	}
	depth, err := db.QueueDepth(ctx)
	if err != nil {
		return fmt.Errorf("queue depth: %w", err)
	}

	fmt.Fprintf(os.Stdout, "Ledger:  %d accounts, %d characters outstanding\n", accounts, totalChars)
	fmt.Fprintf(os.Stdout, "Orders:  %d total (open=%d paid=%d credited=%d expired=%d canceled=%d)\n",
		orderCounts.Total, orderCounts.Open, orderCounts.Paid, orderCounts.Credited,
		orderCounts.Expired, orderCounts.Canceled)
	fmt.Fprintf(os.Stdout, "Jobs:    %d total (queued=%d running=%d done=%d failed=%d)\n",
		jobCounts.Total, jobCounts.Queued, jobCounts.Running, jobCounts.Done, jobCounts.Failed)
	fmt.Fprintf(os.Stdout, "Queue:   %d pending\n", depth)
	return nil
}
