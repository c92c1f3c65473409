package evolution

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aristath/fleet/internal/lockfile"
)

// Vote resolution outcomes.
type VoteOutcome string

const (
	VoteRecorded VoteOutcome = "recorded" // Quorum not yet reached
	VoteExecuted VoteOutcome = "executed" // Quorum reached, ratio met, restructuring applied
	VoteRejected VoteOutcome = "rejected" // Quorum reached, ratio missed, request discarded
)

var (
	// ErrNoPendingPlan is returned when an action targets a worker with
	// no in-flight remediation of the required kind.
	ErrNoPendingPlan = errors.New("evolution: no pending plan")

	// ErrDuplicateVote is returned when a teammate votes twice.
	ErrDuplicateVote = errors.New("evolution: duplicate vote")
)

// ConfirmModelSwap resolves a pending model substitution. Approval persists
// the new model through the ModelStore; either way the marker is removed and
// the worker becomes eligible for fresh diagnosis.
func (e *Engine) ConfirmModelSwap(agentID string, approve bool) error {
	return lockfile.WithLock(e.markerLock(agentID), 10*time.Second, func() error {
		plan, err := e.loadPlan(agentID)
		if err != nil {
			return err
		}
		if plan == nil || plan.State != StateAwaitingConfirmation {
			return ErrNoPendingPlan
		}

		if approve {
			if e.models == nil {
				return fmt.Errorf("evolution: no model store configured")
			}
			if plan.NewModel == "" {
				return fmt.Errorf("evolution: plan for %s has no substitute model", agentID)
			}
			if err := e.models.SetWorkerModel(agentID, plan.NewModel); err != nil {
				return err
			}
			log.Printf("evolution: model for %s swapped to %s", agentID, plan.NewModel)
		} else {
			log.Printf("evolution: model swap for %s rejected", agentID)
		}
		return e.removePlan(agentID)
	})
}

// CastVote records one teammate's vote on a pending role change. Duplicate
// votes are rejected. Once more than half the team has voted, the approval
// ratio decides: at or above the threshold the restructuring executes,
// otherwise the request is discarded.
func (e *Engine) CastVote(agentID, voter string, approve bool) (VoteOutcome, error) {
	outcome := VoteRecorded

	err := lockfile.WithLock(e.markerLock(agentID), 10*time.Second, func() error {
		plan, err := e.loadPlan(agentID)
		if err != nil {
			return err
		}
		if plan == nil || plan.State != StateAwaitingVote {
			return ErrNoPendingPlan
		}
		if _, voted := plan.Votes[voter]; voted {
			return ErrDuplicateVote
		}
		if plan.Votes == nil {
			plan.Votes = make(map[string]bool)
		}
		plan.Votes[voter] = approve

		quorum := len(e.cfg.Team)/2 + 1
		if len(plan.Votes) < quorum {
			return e.savePlan(plan)
		}

		approvals := 0
		for _, a := range plan.Votes {
			if a {
				approvals++
			}
		}
		ratio := float64(approvals) / float64(len(plan.Votes))
		if ratio >= e.cfg.VoteThreshold {
			if err := e.appendOverride(agentID, restructureConstraint(plan.Proposal)); err != nil {
				return err
			}
			outcome = VoteExecuted
			log.Printf("evolution: role change for %s executed (%d/%d approvals)", agentID, approvals, len(plan.Votes))
		} else {
			outcome = VoteRejected
			log.Printf("evolution: role change for %s rejected (%d/%d approvals)", agentID, approvals, len(plan.Votes))
		}
		return e.removePlan(agentID)
	})
	if err != nil {
		return VoteRecorded, err
	}
	return outcome, nil
}

// restructureConstraint renders the scope-narrowing block applied when a
// role vote passes.
func restructureConstraint(proposal string) string {
	return "Role restructuring in effect: " + proposal +
		"\nOnly claim tasks squarely inside this narrowed scope."
}
