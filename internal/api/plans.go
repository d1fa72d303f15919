package api

import (
	"context"
	"fmt"
	"net/http"
)

// Plan is a coaching plan offered on the marketplace.
type Plan struct {
	ID          string `json:"id"`
	TrainerID   string `json:"trainerId"`
	TrainerName string `json:"trainerName"`
	Title       string `json:"title"`
	Description string `json:"description"`
	PriceCents  int    `json:"priceCents"`
	DurationWks int    `json:"durationWeeks"`
}

// Task is a single assigned item inside a plan.
type Task struct {
	ID        string `json:"id"`
	PlanID    string `json:"planId"`
	Title     string `json:"title"`
	Notes     string `json:"notes"`
	DueAt     int64  `json:"dueAt"` // unix ms
	Completed bool   `json:"completed"`
}

// ListPlans fetches the plans visible to the current user: authored plans for
// trainers, subscribed plans for clients.
func (c *Client) ListPlans(ctx context.Context) ([]Plan, error) {
	var plans []Plan
	if err := c.do(ctx, http.MethodGet, "/v1/plans", nil, &plans, true); err != nil {
		return nil, err
	}
	return plans, nil
}

// GetPlan fetches one plan with full detail.
func (c *Client) GetPlan(ctx context.Context, planID string) (*Plan, error) {
	var plan Plan
	if err := c.do(ctx, http.MethodGet, "/v1/plans/"+planID, nil, &plan, true); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ListTasks fetches the current user's assigned tasks.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	var tasks []Task
	if err := c.do(ctx, http.MethodGet, "/v1/tasks", nil, &tasks, true); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CompleteTask marks a task completed.
func (c *Client) CompleteTask(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/tasks/%s/complete", taskID), nil, nil, true)
}
