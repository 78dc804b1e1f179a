package domain

import (
	"fmt"
	"time"
)

// Operator compares an event metric against a condition value.
type Operator string

const (
	OpGreater  Operator = ">"
	OpLess     Operator = "<"
	OpEqual    Operator = "="
	OpNotEqual Operator = "!="
)

// Compare applies the operator to (actual, want). Equality is exact.
func (o Operator) Compare(actual, want float64) bool {
	switch o {
	case OpGreater:
		return actual > want
	case OpLess:
		return actual < want
	case OpEqual:
		return actual == want
	case OpNotEqual:
		return actual != want
	}
	return false
}

// Condition is a guard predicate over one metric of the event snapshot.
type Condition struct {
	Metric   string   `json:"metric" yaml:"metric" validate:"required"`
	Operator Operator `json:"operator" yaml:"operator" validate:"required,oneof=> < = !="`
	Value    float64  `json:"value" yaml:"value"`
}

// Matches reports whether the condition holds for the metrics. A missing
// metric never matches.
func (c Condition) Matches(metrics map[string]float64) bool {
	actual, ok := metrics[c.Metric]
	if !ok {
		return false
	}
	return c.Operator.Compare(actual, c.Value)
}

// Trigger selects events by category and guards them with conditions (AND).
type Trigger struct {
	Type       EventCategory `json:"type" yaml:"type" validate:"required"`
	Conditions []Condition   `json:"conditions" yaml:"conditions" validate:"dive"`
}

// Matches reports whether the event has the trigger's category and satisfies
// every condition.
func (t Trigger) Matches(event BillingEvent) bool {
	if t.Type != event.Category {
		return false
	}
	for _, c := range t.Conditions {
		if !c.Matches(event.Metrics) {
			return false
		}
	}
	return true
}

// ActionType names the side effect an action produces.
type ActionType string

const (
	ActionSendEmail        ActionType = "send_email"
	ActionSendNotification ActionType = "send_notification"
	ActionApplyDiscount    ActionType = "apply_discount"
	ActionCreateTask       ActionType = "create_task"
)

// EmailParams configures a send_email action.
type EmailParams struct {
	Template string `json:"template" yaml:"template" validate:"required"`
	Subject  string `json:"subject,omitempty" yaml:"subject"`
}

// NotificationParams configures a send_notification action.
type NotificationParams struct {
	Channel string `json:"channel" yaml:"channel" validate:"required,oneof=in_app sms push slack"`
	Message string `json:"message" yaml:"message" validate:"required"`
}

// DiscountParams configures an apply_discount action.
type DiscountParams struct {
	Percent      float64 `json:"percent" yaml:"percent" validate:"gt=0,lte=100"`
	DurationDays int     `json:"duration_days" yaml:"duration_days" validate:"gt=0"`
}

// TaskParams configures a create_task action.
type TaskParams struct {
	Title    string `json:"title" yaml:"title" validate:"required"`
	Assignee string `json:"assignee,omitempty" yaml:"assignee"`
}

// Action is a tagged variant: exactly the params field matching Type is set.
type Action struct {
	ID           string              `json:"id" yaml:"id" validate:"required"`
	Type         ActionType          `json:"type" yaml:"type" validate:"required"`
	Email        *EmailParams        `json:"email,omitempty" yaml:"email"`
	Notification *NotificationParams `json:"notification,omitempty" yaml:"notification"`
	Discount     *DiscountParams     `json:"discount,omitempty" yaml:"discount"`
	Task         *TaskParams         `json:"task,omitempty" yaml:"task"`
}

// CheckVariant verifies that the populated params match the action type.
func (a Action) CheckVariant() error {
	set := 0
	for _, p := range []bool{a.Email != nil, a.Notification != nil, a.Discount != nil, a.Task != nil} {
		if p {
			set++
		}
	}
	var ok bool
	switch a.Type {
	case ActionSendEmail:
		ok = a.Email != nil
	case ActionSendNotification:
		ok = a.Notification != nil
	case ActionApplyDiscount:
		ok = a.Discount != nil
	case ActionCreateTask:
		ok = a.Task != nil
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown action type %q", a.Type)}
	}
	if !ok || set != 1 {
		return &ValidationError{Field: string(a.Type), Reason: "params must be set for exactly the action's type"}
	}
	return nil
}

// Workflow is a rule: when Trigger matches an event, Actions run in order.
type Workflow struct {
	ID        string    `json:"id" yaml:"id" validate:"required"`
	Name      string    `json:"name" yaml:"name" validate:"required"`
	Trigger   Trigger   `json:"trigger" yaml:"trigger"`
	Actions   []Action  `json:"actions" yaml:"actions" validate:"required,min=1,dive"`
	IsActive  bool      `json:"is_active" yaml:"active"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// ActionResult records the outcome of one executed action.
type ActionResult struct {
	ActionID string     `json:"action_id"`
	Type     ActionType `json:"type"`
	Error    string     `json:"error,omitempty"`
}

// WorkflowRun records one firing of a workflow for one event.
type WorkflowRun struct {
	WorkflowID string         `json:"workflow_id"`
	EventID    string         `json:"event_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Results    []ActionResult `json:"results"`
}

// Failed reports whether any action in the run failed.
func (r WorkflowRun) Failed() bool {
	for _, res := range r.Results {
		if res.Error != "" {
			return true
		}
	}
	return false
}
