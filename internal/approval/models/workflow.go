package models

import (
	"fmt"
	"slices"
	"strings"

	dErrors "auditflow/pkg/domain-errors"
)

// WorkflowStepDefinition is one step template of a workflow.
type WorkflowStepDefinition struct {
	StepOrder    int    `json:"step_order" mapstructure:"step_order"`
	StepName     string `json:"step_name" mapstructure:"step_name"`
	AssigneeRole string `json:"assignee_role" mapstructure:"assignee_role"`
	Required     bool   `json:"required" mapstructure:"required"`
}

// WorkflowDefinition is an immutable step template owned by the catalog.
type WorkflowDefinition struct {
	ID    string                   `json:"id" mapstructure:"id"`
	Name  string                   `json:"name" mapstructure:"name"`
	Steps []WorkflowStepDefinition `json:"steps" mapstructure:"steps"`
}

// Validate checks the definition can be instantiated: positive unique step
// orders, named and assigned steps, at least one required step.
func (d *WorkflowDefinition) Validate() error {
	if d == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "workflow definition is required")
	}
	if strings.TrimSpace(d.ID) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "workflow ID is required")
	}
	if len(d.Steps) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("workflow %s has no steps", d.ID))
	}
	seen := make(map[int]struct{}, len(d.Steps))
	required := 0
	for _, step := range d.Steps {
		if step.StepOrder <= 0 {
			return dErrors.New(dErrors.CodeInvalidInput,
				fmt.Sprintf("workflow %s: step order must be positive", d.ID))
		}
		if _, dup := seen[step.StepOrder]; dup {
			return dErrors.New(dErrors.CodeInvalidInput,
				fmt.Sprintf("workflow %s: duplicate step order %d", d.ID, step.StepOrder))
		}
		seen[step.StepOrder] = struct{}{}
		if strings.TrimSpace(step.StepName) == "" {
			return dErrors.New(dErrors.CodeInvalidInput,
				fmt.Sprintf("workflow %s: step %d has no name", d.ID, step.StepOrder))
		}
		if strings.TrimSpace(step.AssigneeRole) == "" {
			return dErrors.New(dErrors.CodeInvalidInput,
				fmt.Sprintf("workflow %s: step %d has no assignee role", d.ID, step.StepOrder))
		}
		if step.Required {
			required++
		}
	}
	if required == 0 {
		return dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("workflow %s needs at least one required step", d.ID))
	}
	return nil
}

func (d *WorkflowDefinition) Clone() *WorkflowDefinition {
	if d == nil {
		return nil
	}
	c := *d
	c.Steps = slices.Clone(d.Steps)
	return &c
}

// OrderedSteps returns the step templates sorted by StepOrder.
func (d *WorkflowDefinition) OrderedSteps() []WorkflowStepDefinition {
	steps := slices.Clone(d.Steps)
	slices.SortFunc(steps, func(a, b WorkflowStepDefinition) int { return a.StepOrder - b.StepOrder })
	return steps
}
