package http

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/billcycle/internal/domain"
)

// ActionBody is one workflow action. Exactly the params matching Type are set.
type ActionBody struct {
	ID           string                     `json:"id" minLength:"1"`
	Type         string                     `json:"type" enum:"send_email,send_notification,apply_discount,create_task"`
	Email        *domain.EmailParams        `json:"email,omitempty"`
	Notification *domain.NotificationParams `json:"notification,omitempty"`
	Discount     *domain.DiscountParams     `json:"discount,omitempty"`
	Task         *domain.TaskParams         `json:"task,omitempty"`
}

// TriggerBody selects the events a workflow reacts to.
type TriggerBody struct {
	Type       string             `json:"type" doc:"Event category"`
	Conditions []domain.Condition `json:"conditions,omitempty" doc:"All must hold"`
}

type PutWorkflowInput struct {
	ID   string `path:"id" doc:"Workflow ID"`
	Body struct {
		Name     string       `json:"name" minLength:"1"`
		Trigger  TriggerBody  `json:"trigger"`
		Actions  []ActionBody `json:"actions" minItems:"1"`
		IsActive bool         `json:"is_active,omitempty"`
	}
}

func (in *PutWorkflowInput) workflow() domain.Workflow {
	w := domain.Workflow{
		ID:   in.ID,
		Name: in.Body.Name,
		Trigger: domain.Trigger{
			Type:       domain.EventCategory(in.Body.Trigger.Type),
			Conditions: in.Body.Trigger.Conditions,
		},
		IsActive: in.Body.IsActive,
	}
	for _, a := range in.Body.Actions {
		w.Actions = append(w.Actions, domain.Action{
			ID:           a.ID,
			Type:         domain.ActionType(a.Type),
			Email:        a.Email,
			Notification: a.Notification,
			Discount:     a.Discount,
			Task:         a.Task,
		})
	}
	return w
}

type WorkflowOutput struct {
	Body domain.Workflow
}

type ListWorkflowsInput struct {
	ActiveOnly bool `query:"active_only" required:"false" doc:"Only active workflows"`
}

type ListWorkflowsOutput struct {
	Body []domain.Workflow
}

type ListRunsOutput struct {
	Body []domain.WorkflowRun
}

func registerWorkflows(api huma.API, svc Services) {
	tags := []string{"Workflows"}

	huma.Register(api, huma.Operation{
		OperationID: "put-workflow",
		Method:      http.MethodPut,
		Path:        "/api/v1/workflows/{id}",
		Summary:     "Create or replace a workflow",
		Tags:        tags,
	}, func(ctx context.Context, input *PutWorkflowInput) (*WorkflowOutput, error) {
		w, err := svc.Workflows.Put(ctx, input.workflow())
		if err != nil {
			return nil, toHumaError(err)
		}
		return &WorkflowOutput{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workflows",
		Method:      http.MethodGet,
		Path:        "/api/v1/workflows",
		Summary:     "List workflows",
		Tags:        tags,
	}, func(ctx context.Context, input *ListWorkflowsInput) (*ListWorkflowsOutput, error) {
		ws, err := svc.Workflows.List(ctx, input.ActiveOnly)
		if err != nil {
			return nil, toHumaError(err)
		}
		if ws == nil {
			ws = []domain.Workflow{}
		}
		return &ListWorkflowsOutput{Body: ws}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow",
		Method:      http.MethodGet,
		Path:        "/api/v1/workflows/{id}",
		Summary:     "Get a workflow by ID",
		Tags:        tags,
	}, func(ctx context.Context, input *IDPath) (*WorkflowOutput, error) {
		w, err := svc.Workflows.Get(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &WorkflowOutput{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workflow-runs",
		Method:      http.MethodGet,
		Path:        "/api/v1/workflows/{id}/runs",
		Summary:     "List the firings of a workflow",
		Tags:        tags,
	}, func(ctx context.Context, input *IDPath) (*ListRunsOutput, error) {
		if _, err := svc.Workflows.Get(ctx, input.ID); err != nil {
			return nil, toHumaError(err)
		}
		runs, err := svc.Workflows.Runs(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		if runs == nil {
			runs = []domain.WorkflowRun{}
		}
		return &ListRunsOutput{Body: runs}, nil
	})

	for _, active := range []bool{true, false} {
		id, path, summary := "activate-workflow", "/api/v1/workflows/{id}/activate", "Start evaluating a workflow"
		if !active {
			id, path, summary = "deactivate-workflow", "/api/v1/workflows/{id}/deactivate", "Stop evaluating a workflow"
		}
		huma.Register(api, huma.Operation{
			OperationID: id,
			Method:      http.MethodPost,
			Path:        path,
			Summary:     summary,
			Tags:        tags,
		}, func(ctx context.Context, input *IDPath) (*WorkflowOutput, error) {
			w, err := svc.Workflows.SetActive(ctx, input.ID, active)
			if err != nil {
				return nil, toHumaError(err)
			}
			return &WorkflowOutput{Body: w}, nil
		})
	}
}
