package app

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/neomorfeo/billcycle/internal/domain"
)

// WorkflowEngine evaluates workflows against billing events and executes
// the actions of the ones that fire.
type WorkflowEngine struct {
	repo       domain.WorkflowRepository
	ledger     domain.FiringLedger
	dispatcher domain.ActionDispatcher
	notifier   domain.Notifier
	catalog    domain.CatalogRepository
	validate   *validator.Validate
	events     publisher
	clock      domain.Clock
	logger     *zap.Logger
}

// WorkflowDeps groups the collaborators of the workflow engine.
type WorkflowDeps struct {
	Repo   domain.WorkflowRepository
	Ledger domain.FiringLedger
	// Dispatcher hands fired workflows to the action worker pool.
	Dispatcher domain.ActionDispatcher
	Notifier   domain.Notifier
	Catalog    domain.CatalogRepository
	Bus        domain.EventBus
}

// NewWorkflowEngine creates an engine with the given adapters.
func NewWorkflowEngine(deps WorkflowDeps, opts Options) *WorkflowEngine {
	opts = opts.withDefaults()

	v := validator.New(validator.WithRequiredStructEnabled())
	// Report field names as they appear in workflow files.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &WorkflowEngine{
		repo:       deps.Repo,
		ledger:     deps.Ledger,
		dispatcher: deps.Dispatcher,
		notifier:   deps.Notifier,
		catalog:    deps.Catalog,
		validate:   v,
		events:     publisher{bus: deps.Bus, clock: opts.Clock, logger: opts.Logger},
		clock:      opts.Clock,
		logger:     opts.Logger.Named("workflows"),
	}
}

// SetDispatcher replaces the action dispatcher. The river client and the
// engine depend on each other, so the dispatcher may arrive late.
func (e *WorkflowEngine) SetDispatcher(d domain.ActionDispatcher) {
	e.dispatcher = d
}

// Validate checks a workflow definition. Malformed conditions, unknown
// trigger categories and unknown or mis-parameterized actions are rejected
// here so they can never silently no-op during evaluation.
func (e *WorkflowEngine) Validate(w domain.Workflow) error {
	var errs []error

	if err := e.validate.Struct(w); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validating workflow %q: %w", w.ID, err)
		}
		for _, fe := range fieldErrs {
			errs = append(errs, &domain.ValidationError{Field: fe.Namespace(), Reason: validationMessage(fe)})
		}
	}

	if !w.Trigger.Type.Known() {
		errs = append(errs, &domain.ValidationError{
			Field:  "trigger.type",
			Reason: fmt.Sprintf("unknown event category %q", w.Trigger.Type),
		})
	}
	seen := make(map[string]bool, len(w.Actions))
	for i, a := range w.Actions {
		if err := a.CheckVariant(); err != nil {
			errs = append(errs, fmt.Errorf("actions[%d]: %w", i, err))
		}
		if seen[a.ID] {
			errs = append(errs, &domain.ValidationError{Field: fmt.Sprintf("actions[%d].id", i), Reason: "duplicate action id"})
		}
		seen[a.ID] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("workflow %q: %w", w.ID, errors.Join(errs...))
	}
	return nil
}

// Put validates and stores a workflow.
func (e *WorkflowEngine) Put(ctx context.Context, w domain.Workflow) (domain.Workflow, error) {
	if err := e.Validate(w); err != nil {
		return domain.Workflow{}, err
	}
	w.UpdatedAt = e.clock.Now()
	if err := e.repo.PutWorkflow(ctx, w); err != nil {
		return domain.Workflow{}, fmt.Errorf("saving workflow: %w", err)
	}
	e.logger.Info("workflow saved", zap.String("workflow_id", w.ID), zap.Bool("active", w.IsActive))
	return w, nil
}

// Load validates a batch of workflows and stores them only if all are valid.
func (e *WorkflowEngine) Load(ctx context.Context, workflows []domain.Workflow) error {
	var errs []error
	for _, w := range workflows {
		if err := e.Validate(w); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	for _, w := range workflows {
		if _, err := e.Put(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

// SetActive toggles a workflow.
func (e *WorkflowEngine) SetActive(ctx context.Context, id string, active bool) (domain.Workflow, error) {
	w, err := e.repo.GetWorkflow(ctx, id)
	if err != nil {
		return domain.Workflow{}, err
	}
	w.IsActive = active
	return e.Put(ctx, w)
}

// Get returns a workflow by its identifier.
func (e *WorkflowEngine) Get(ctx context.Context, id string) (domain.Workflow, error) {
	return e.repo.GetWorkflow(ctx, id)
}

// List returns workflows, optionally only active ones.
func (e *WorkflowEngine) List(ctx context.Context, activeOnly bool) ([]domain.Workflow, error) {
	return e.repo.ListWorkflows(ctx, activeOnly)
}

// Runs returns the execution history of a workflow.
func (e *WorkflowEngine) Runs(ctx context.Context, workflowID string) ([]domain.WorkflowRun, error) {
	return e.repo.ListRuns(ctx, workflowID)
}

// Evaluate fires every active workflow whose trigger matches the event.
// A (workflow, event) pair fires at most once; firing hands the actions to
// the dispatcher and does not wait for them. It returns the fired workflow ids.
func (e *WorkflowEngine) Evaluate(ctx context.Context, event domain.BillingEvent) ([]string, error) {
	if event.ID == "" {
		return nil, &domain.ValidationError{Field: "event.id", Reason: "must not be empty"}
	}

	workflows, err := e.repo.ListWorkflows(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}

	var fired []string
	var errs []error
	for _, w := range workflows {
		if !w.Trigger.Matches(event) {
			continue
		}

		first, err := e.ledger.MarkFired(ctx, w.ID, event.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("workflow %s: %w", w.ID, err))
			continue
		}
		if !first {
			e.logger.Debug("workflow already fired for event",
				zap.String("workflow_id", w.ID), zap.String("event_id", event.ID))
			continue
		}

		if err := e.dispatcher.DispatchActions(ctx, w.ID, event); err != nil {
			errs = append(errs, fmt.Errorf("dispatching workflow %s: %w", w.ID, err))
			continue
		}
		fired = append(fired, w.ID)
		e.logger.Info("workflow fired",
			zap.String("workflow_id", w.ID),
			zap.String("event_id", event.ID),
			zap.String("category", string(event.Category)),
		)
	}
	return fired, errors.Join(errs...)
}

// Execute runs a fired workflow's actions in declared order and records the
// run. A failing action is recorded and the remaining actions still run.
//
// Progress is saved after every action. Executing the same (workflow, event)
// again, as a retried job does, skips actions that already have a result and
// returns a finished run unchanged.
func (e *WorkflowEngine) Execute(ctx context.Context, workflowID string, event domain.BillingEvent) (domain.WorkflowRun, error) {
	w, err := e.repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return domain.WorkflowRun{}, err
	}

	run, err := e.repo.GetRun(ctx, w.ID, event.ID)
	switch {
	case errors.Is(err, domain.ErrRunNotFound):
		run = domain.WorkflowRun{
			WorkflowID: w.ID,
			EventID:    event.ID,
			StartedAt:  e.clock.Now(),
			Results:    make([]domain.ActionResult, 0, len(w.Actions)),
		}
	case err != nil:
		return domain.WorkflowRun{}, fmt.Errorf("loading workflow run: %w", err)
	case !run.FinishedAt.IsZero():
		return run, nil
	}

	done := make(map[string]bool, len(run.Results))
	for _, r := range run.Results {
		done[r.ActionID] = true
	}

	for _, action := range w.Actions {
		if done[action.ID] {
			continue
		}
		result := domain.ActionResult{ActionID: action.ID, Type: action.Type}
		if err := e.runAction(ctx, w, action, event); err != nil {
			result.Error = err.Error()
			e.logger.Warn("workflow action failed",
				zap.String("workflow_id", w.ID),
				zap.String("action_id", action.ID),
				zap.String("event_id", event.ID),
				zap.Error(err),
			)
		}
		run.Results = append(run.Results, result)
		if err := e.repo.RecordRun(ctx, run); err != nil {
			return run, fmt.Errorf("recording workflow progress: %w", err)
		}
	}
	run.FinishedAt = e.clock.Now()

	if err := e.repo.RecordRun(ctx, run); err != nil {
		return run, fmt.Errorf("recording workflow run: %w", err)
	}
	return run, nil
}

func (e *WorkflowEngine) runAction(ctx context.Context, w domain.Workflow, action domain.Action, event domain.BillingEvent) error {
	switch action.Type {
	case domain.ActionApplyDiscount:
		return e.applyDiscount(ctx, w, action, event)
	case domain.ActionSendEmail, domain.ActionSendNotification, domain.ActionCreateTask:
		if e.notifier == nil {
			return errors.New("no notifier configured")
		}
		return e.notifier.Dispatch(ctx, action, event)
	}
	return &domain.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown action type %q", action.Type)}
}

func (e *WorkflowEngine) applyDiscount(ctx context.Context, w domain.Workflow, action domain.Action, event domain.BillingEvent) error {
	if event.SubscriptionID == "" {
		return errors.New("event has no subscription")
	}

	now := e.clock.Now()
	d := domain.Discount{
		ID:             newID("disc"),
		SubscriptionID: event.SubscriptionID,
		Percent:        decimal.NewFromFloat(action.Discount.Percent),
		ExpiresAt:      now.Add(time.Duration(action.Discount.DurationDays) * 24 * time.Hour),
		WorkflowID:     w.ID,
		CreatedAt:      now,
	}
	if err := e.catalog.PutDiscount(ctx, d); err != nil {
		return fmt.Errorf("saving discount: %w", err)
	}

	e.events.publish(ctx, domain.BillingEvent{
		Category:       domain.CategoryDiscountApplied,
		SubscriptionID: event.SubscriptionID,
		Reason:         w.ID,
		Metrics:        map[string]float64{domain.MetricDiscount: action.Discount.Percent},
	})
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must have at least " + fe.Param() + " entries"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	default:
		return "is invalid (" + fe.Tag() + ")"
	}
}
