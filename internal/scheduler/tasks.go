package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskAnalyticsExport = "analytics.export"

const TaskScoreRecalculate = "leads.score.recalculate"

type AnalyticsExportPayload struct {
	JobID string `json:"jobId"`
}

type ScoreRecalculatePayload struct {
	LeadID string `json:"leadId"`
}

func NewAnalyticsExportTask(payload AnalyticsExportPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAnalyticsExport, data), nil
}

func ParseAnalyticsExportPayload(task *asynq.Task) (AnalyticsExportPayload, error) {
	var payload AnalyticsExportPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return AnalyticsExportPayload{}, err
	}
	return payload, nil
}

func NewScoreRecalculateTask(payload ScoreRecalculatePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskScoreRecalculate, data), nil
}

func ParseScoreRecalculatePayload(task *asynq.Task) (ScoreRecalculatePayload, error) {
	var payload ScoreRecalculatePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ScoreRecalculatePayload{}, err
	}
	return payload, nil
}
