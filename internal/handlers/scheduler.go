package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/cagehost/internal/dispatcher"
	"github.com/nextlevelbuilder/cagehost/internal/scheduler"
)

func (d Deps) schedulerAddCron(_ context.Context, dctx dispatcher.Context, payload map[string]any) (map[string]any, error) {
	if d.Scheduler == nil {
		return nil, fmt.Errorf("scheduler_add_cron: no scheduler configured")
	}
	agentID := str(payload, "agent_id")
	if agentID == "" {
		agentID = dctx.AgentID
	}
	job := scheduler.CronJob{
		ID:             uuid.NewString(),
		CronExpr:       str(payload, "cron_expr"),
		AgentID:        agentID,
		Prompt:         str(payload, "prompt"),
		MaxTokenBudget: int(num(payload, "max_token_budget")),
		RunOnce:        boolean(payload, "run_once"),
	}
	if err := d.Scheduler.AddCron(job); err != nil {
		return nil, fmt.Errorf("scheduler_add_cron: %w", err)
	}
	return map[string]any{"jobId": job.ID}, nil
}

func (d Deps) schedulerRunAt(_ context.Context, dctx dispatcher.Context, payload map[string]any) (map[string]any, error) {
	if d.Scheduler == nil {
		return nil, fmt.Errorf("scheduler_run_at: no scheduler configured")
	}
	at, err := time.Parse(time.RFC3339, str(payload, "at"))
	if err != nil {
		return nil, fmt.Errorf("scheduler_run_at: invalid 'at' timestamp: %w", err)
	}
	agentID := str(payload, "agent_id")
	if agentID == "" {
		agentID = dctx.AgentID
	}
	job := scheduler.CronJob{
		ID:      uuid.NewString(),
		AgentID: agentID,
		Prompt:  str(payload, "prompt"),
		RunOnce: true,
	}
	// A detached context: the one-shot timer outlives this request's ctx.
	d.Scheduler.ScheduleOnce(context.Background(), job, at)
	return map[string]any{"jobId": job.ID, "at": at}, nil
}

func (d Deps) schedulerRemoveCron(_ context.Context, _ dispatcher.Context, payload map[string]any) (map[string]any, error) {
	if d.Scheduler == nil {
		return nil, fmt.Errorf("scheduler_remove_cron: no scheduler configured")
	}
	jobID := str(payload, "job_id")
	removed := d.Scheduler.RemoveCron(jobID)
	if !removed {
		removed = d.Scheduler.CancelOnce(jobID)
	}
	return map[string]any{"removed": removed}, nil
}

func (d Deps) schedulerListJobs(_ context.Context, _ dispatcher.Context, _ map[string]any) (map[string]any, error) {
	if d.Scheduler == nil {
		return map[string]any{"jobs": []map[string]any{}}, nil
	}
	jobs := d.Scheduler.ListJobs()
	out := make([]map[string]any, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, map[string]any{
			"id": j.ID, "cronExpr": j.CronExpr, "agentId": j.AgentID, "prompt": j.Prompt, "runOnce": j.RunOnce,
		})
	}
	return map[string]any{"jobs": out}, nil
}
