package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/fleet/internal/events"
	"github.com/aristath/fleet/internal/queue"
)

var (
	taskBlockedBy []string
	taskRole      string
	taskStatus    string
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create or manage tasks",
	Long:  "Create a new task or manage existing ones on the shared board.",
}

var taskAddCmd = &cobra.Command{
	Use:   "add [description]",
	Short: "Add a new task to the queue",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, optionally filtered by status",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show task details",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel [id]",
	Short: "Cancel a task",
	Args:  cobra.ExactArgs(1),
	RunE:  transitionCmd("Cancelled", func(q *queue.Queue, id string) (*queue.Task, error) { return q.Cancel(id) }),
}

var taskPauseCmd = &cobra.Command{
	Use:   "pause [id]",
	Short: "Pause a pending task",
	Args:  cobra.ExactArgs(1),
	RunE:  transitionCmd("Paused", func(q *queue.Queue, id string) (*queue.Task, error) { return q.Pause(id) }),
}

var taskResumeCmd = &cobra.Command{
	Use:   "resume [id]",
	Short: "Resume a paused task",
	Args:  cobra.ExactArgs(1),
	RunE:  transitionCmd("Resumed", func(q *queue.Queue, id string) (*queue.Task, error) { return q.Resume(id) }),
}

var taskRetryCmd = &cobra.Command{
	Use:   "retry [id]",
	Short: "Requeue a failed or cancelled task",
	Args:  cobra.ExactArgs(1),
	RunE:  transitionCmd("Requeued", func(q *queue.Queue, id string) (*queue.Task, error) { return q.Retry(id) }),
}

func init() {
	taskAddCmd.Flags().StringSliceVar(&taskBlockedBy, "blocked-by", nil, "Task ids that must complete first")
	taskAddCmd.Flags().StringVarP(&taskRole, "role", "r", "", "Role keyword required to claim this task")

	taskListCmd.Flags().StringVarP(&taskStatus, "status", "s", "", "Filter by status")

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskCancelCmd)
	taskCmd.AddCommand(taskPauseCmd)
	taskCmd.AddCommand(taskResumeCmd)
	taskCmd.AddCommand(taskRetryCmd)
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}

	description := strings.Join(args, " ")
	task, err := svc.queue.Create(description, taskBlockedBy, taskRole)
	if err != nil {
		return err
	}
	svc.bus.Publish(events.TaskCreatedEvent{
		ID:          task.ID,
		Description: task.Description,
		BlockedBy:   task.BlockedBy,
		Timestamp:   time.Now(),
	})

	fmt.Printf("Created task %s [%s]: %s\n", task.ID, task.Status, task.Description)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}

	tasks, err := svc.queue.List()
	if err != nil {
		return err
	}

	shown := 0
	for _, t := range tasks {
		if taskStatus != "" && string(t.Status) != taskStatus {
			continue
		}
		shown++
		agent := ""
		if t.AgentID != "" {
			agent = fmt.Sprintf(" [%s]", t.AgentID)
		}
		deps := ""
		if len(t.BlockedBy) > 0 {
			deps = fmt.Sprintf(" after(%s)", strings.Join(t.BlockedBy, ","))
		}
		fmt.Printf("%-10s %-10s %s%s%s\n", t.ID, t.Status, t.Description, agent, deps)
	}
	if shown == 0 {
		fmt.Println("No tasks found.")
	}
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}

	task, err := svc.queue.Get(args[0])
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %s not found", args[0])
	}

	fmt.Printf("Task %s\n", task.ID)
	fmt.Printf("  Description: %s\n", task.Description)
	fmt.Printf("  Status:      %s\n", task.Status)
	if task.RequiredRole != "" {
		fmt.Printf("  Role:        %s\n", task.RequiredRole)
	}
	if task.AgentID != "" {
		fmt.Printf("  Agent:       %s\n", task.AgentID)
	}
	if len(task.BlockedBy) > 0 {
		fmt.Printf("  Blocked by:  %s\n", strings.Join(task.BlockedBy, ", "))
	}
	if len(task.AssignedTo) > 0 {
		fmt.Printf("  History:     %s\n", strings.Join(task.AssignedTo, " -> "))
	}
	if len(task.EvolutionFlags) > 0 {
		fmt.Printf("  Flags:       %s\n", strings.Join(task.EvolutionFlags, ", "))
	}
	fmt.Printf("  Created:     %s\n", task.CreatedAt.Format("2006-01-02 15:04"))
	fmt.Printf("  Updated:     %s (%s ago)\n", task.UpdatedAt.Format("2006-01-02 15:04"), formatAge(task.UpdatedAt))

	if len(task.Reviews) > 0 {
		fmt.Println("\n  Reviews:")
		for _, r := range task.Reviews {
			fmt.Printf("    %s %s scored %.0f: %s\n", r.Timestamp.Format("15:04"), r.Reviewer, r.Score, firstLine(r.Comment))
		}
	}
	if task.Result != "" {
		fmt.Printf("\n  Result:\n%s\n", indent(task.Result, "    "))
	}
	return nil
}

func transitionCmd(verb string, op func(q *queue.Queue, id string) (*queue.Task, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		svc, err := openServices()
		if err != nil {
			return err
		}

		task, err := op(svc.queue, args[0])
		if err != nil {
			return err
		}
		if task == nil {
			return fmt.Errorf("task %s not found or not in an eligible state", args[0])
		}
		fmt.Printf("%s task %s [%s]\n", verb, task.ID, task.Status)
		return nil
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
