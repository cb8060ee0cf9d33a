package engine

import (
	"github.com/journeyhq/journey/model"
)

// stepAt resolves the step a pointer addresses, or nil when the pointer has
// walked off the end of the flow.
func stepAt(steps []model.Step, ptr model.StepPointer) *model.Step {
	if len(ptr) == 0 {
		return nil
	}
	sequence := steps
	for level, ref := range ptr {
		if ref.Step < 0 || ref.Step >= len(sequence) {
			return nil
		}
		step := &sequence[ref.Step]
		if level == len(ptr)-1 {
			return step
		}
		if step.Kind != model.STEP_DECISION {
			return nil
		}
		if ref.Branch == -1 {
			sequence = step.Else
		} else {
			if ref.Branch < 0 || ref.Branch >= len(step.Branches) {
				return nil
			}
			sequence = step.Branches[ref.Branch].Steps
		}
	}
	return nil
}

// advance moves past the step the pointer addresses. When the step was the
// last of its branch the pointer pops to the enclosing decision and moves
// past it; pointers only ever move forward. An empty result means the flow
// ran off its last step.
func advance(steps []model.Step, ptr model.StepPointer) model.StepPointer {
	next := make(model.StepPointer, len(ptr))
	copy(next, ptr)
	for len(next) > 0 {
		last := len(next) - 1
		next[last].Step++
		next[last].Branch = 0
		if stepAt(steps, next) != nil {
			return next
		}
		next = next[:last]
	}
	return nil
}

// descend enters a decision branch (-1 for else), pointing at the branch's
// first step. An empty branch behaves like advancing past the decision.
func descend(steps []model.Step, ptr model.StepPointer, branch int) model.StepPointer {
	next := make(model.StepPointer, len(ptr), len(ptr)+1)
	copy(next, ptr)
	next[len(next)-1].Branch = branch
	next = append(next, model.StepRef{Step: 0})
	if stepAt(steps, next) != nil {
		return next
	}
	return advance(steps, ptr)
}
