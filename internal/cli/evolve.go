package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/fleet/internal/evolution"
)

var evolveCmd = &cobra.Command{
	Use:   "evolve",
	Short: "Inspect and resolve worker corrections",
}

var evolvePendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List in-flight correction plans",
	RunE:  runEvolvePending,
}

var evolveApproveCmd = &cobra.Command{
	Use:   "approve [agent]",
	Short: "Approve a pending model swap",
	Args:  cobra.ExactArgs(1),
	RunE:  confirmCmd(true),
}

var evolveRejectCmd = &cobra.Command{
	Use:   "reject [agent]",
	Short: "Reject a pending model swap",
	Args:  cobra.ExactArgs(1),
	RunE:  confirmCmd(false),
}

var voteApprove bool

var evolveVoteCmd = &cobra.Command{
	Use:   "vote [agent] [voter]",
	Short: "Cast a team vote on a pending role change",
	Args:  cobra.ExactArgs(2),
	RunE:  runEvolveVote,
}

func init() {
	evolveVoteCmd.Flags().BoolVar(&voteApprove, "approve", true, "Vote in favor (use --approve=false to vote against)")

	evolveCmd.AddCommand(evolvePendingCmd)
	evolveCmd.AddCommand(evolveApproveCmd)
	evolveCmd.AddCommand(evolveRejectCmd)
	evolveCmd.AddCommand(evolveVoteCmd)
}

func runEvolvePending(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}

	plans, err := svc.engine.PendingAll()
	if err != nil {
		return err
	}
	if len(plans) == 0 {
		fmt.Println("No pending corrections.")
		return nil
	}

	for _, p := range plans {
		fmt.Printf("%s  path=%s state=%s\n", p.AgentID, p.Path, p.State)
		fmt.Printf("  patterns: %s\n", strings.Join(p.Patterns, ", "))
		if p.RootCause != "" {
			fmt.Printf("  cause: %s\n", firstLine(p.RootCause))
		}
		switch p.Path {
		case evolution.PathModel:
			fmt.Printf("  proposed model: %s\n", p.NewModel)
			fmt.Printf("  resolve with: fleet evolve approve %s (or reject)\n", p.AgentID)
		case evolution.PathRole:
			fmt.Printf("  proposal: %s\n", firstLine(p.Proposal))
			fmt.Printf("  votes: %d recorded\n", len(p.Votes))
			fmt.Printf("  vote with: fleet evolve vote %s <voter>\n", p.AgentID)
		}
		fmt.Println()
	}
	return nil
}

func confirmCmd(approve bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		svc, err := openServices()
		if err != nil {
			return err
		}

		if err := svc.engine.ConfirmModelSwap(args[0], approve); err != nil {
			return err
		}
		if approve {
			fmt.Printf("Model swap applied for %s\n", args[0])
		} else {
			fmt.Printf("Model swap rejected for %s\n", args[0])
		}
		return nil
	}
}

func runEvolveVote(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}

	outcome, err := svc.engine.CastVote(args[0], args[1], voteApprove)
	if err != nil {
		return err
	}

	switch outcome {
	case evolution.VoteExecuted:
		fmt.Printf("Quorum reached: role change applied for %s\n", args[0])
	case evolution.VoteRejected:
		fmt.Printf("Quorum reached: role change rejected for %s\n", args[0])
	default:
		fmt.Printf("Vote recorded for %s\n", args[0])
	}
	return nil
}
