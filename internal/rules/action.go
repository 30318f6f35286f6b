package rules

import (
	"fmt"

	"marinaops/internal/types"
)

// Action is what a rule asks for when its predicate matches. It is a closed
// set: Allow, Reschedule and Block are the only implementations, and callers
// switch on the concrete type.
type Action interface {
	// Name is the wire form used in rule files and the rules table.
	Name() string
	isAction()
}

// Allow documents conditions that are explicitly acceptable. A matching Allow
// rule is never reported as a violation.
type Allow struct{}

// Reschedule is an advisory violation that can be resolved by moving the task
// AdjustmentDays forward.
type Reschedule struct {
	AdjustmentDays int
}

// Block is a violation that no date shift resolves.
type Block struct{}

func (Allow) Name() string      { return "allow" }
func (Reschedule) Name() string { return "reschedule" }
func (Block) Name() string      { return "block" }

func (Allow) isAction()      {}
func (Reschedule) isAction() {}
func (Block) isAction()      {}

// ParseAction builds an Action from its wire name and adjustment.
func ParseAction(name string, adjustmentDays int) (Action, error) {
	switch name {
	case "allow":
		if adjustmentDays != 0 {
			return nil, fmt.Errorf("adjustment_days must be 0 for allow, got %d", adjustmentDays)
		}
		return Allow{}, nil
	case "block":
		if adjustmentDays != 0 {
			return nil, fmt.Errorf("adjustment_days must be 0 for block, got %d", adjustmentDays)
		}
		return Block{}, nil
	case "reschedule":
		if adjustmentDays <= 0 {
			return nil, fmt.Errorf("adjustment_days must be positive for reschedule, got %d", adjustmentDays)
		}
		return Reschedule{AdjustmentDays: adjustmentDays}, nil
	default:
		return nil, fmt.Errorf("unknown action %q", name)
	}
}

// violationAction maps a violating Action to its reported form. Allow never
// violates and reports ok=false.
func violationAction(a Action) (action types.ViolationAction, adjustment int, ok bool) {
	switch act := a.(type) {
	case Block:
		return types.ViolationBlock, 0, true
	case Reschedule:
		return types.ViolationReschedule, act.AdjustmentDays, true
	case Allow:
		return "", 0, false
	default:
		panic(fmt.Sprintf("rules: unhandled action %T", a))
	}
}
