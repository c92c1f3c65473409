package agent

import (
	"context"
	"strconv"
	"strings"

	"github.com/aristath/fleet/internal/queue"
)

const reviewInstructions = `You are reviewing another worker's task result.
Assess correctness and completeness, then end your reply with two lines:
SCORE: <0-100>
VERDICT: APPROVE or REJECT`

// CommandReviewer scores peer submissions by running the agent command
// with a review prompt and parsing the SCORE and VERDICT lines from its
// output.
type CommandReviewer struct {
	Executor *CommandExecutor
}

// Review asks the agent to judge the task's submitted result.
func (r *CommandReviewer) Review(ctx context.Context, task *queue.Task) (float64, string, bool, error) {
	prompt := reviewInstructions + "\n\nResult to review:\n" + task.Result

	output, err := r.Executor.Execute(ctx, task, prompt)
	if err != nil {
		return 0, "", false, err
	}

	score, ok := extractScore(output)
	if !ok {
		// No parseable score; treat the review as neutral approval so a
		// chatty reviewer cannot stall the pipeline.
		return 70, output, true, nil
	}
	verdict := extractVerdict(output)
	approve := verdict != "REJECT" && score >= 60

	return score, output, approve, nil
}

// extractScore looks for a "SCORE:" line in agent output.
func extractScore(output string) (float64, bool) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(strings.ToUpper(line), "SCORE:"); ok {
			score, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
			if err != nil || score < 0 || score > 100 {
				continue
			}
			return score, true
		}
	}
	return 0, false
}

// extractVerdict looks for a "VERDICT:" line in agent output.
func extractVerdict(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(strings.ToUpper(line), "VERDICT:"); ok {
			verdict := strings.TrimSpace(rest)
			if strings.Contains(verdict, "APPROVE") {
				return "APPROVE"
			}
			if strings.Contains(verdict, "REJECT") {
				return "REJECT"
			}
		}
	}
	return ""
}
