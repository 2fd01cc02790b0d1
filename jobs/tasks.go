package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBillingMonthlyRun is the recurring batch billing task type.
	TaskBillingMonthlyRun = "billing:monthly_run"
)

// BillingRunPayload parameterises one batch billing run. ReferenceDate is
// YYYY-MM-DD; empty means "today" at execution time, which is what the cron
// entry uses.
type BillingRunPayload struct {
	CompanyID     int64  `json:"company_id"`
	ReferenceDate string `json:"reference_date,omitempty"`
	Trigger       string `json:"trigger,omitempty"`
}

// NewBillingRunTask constructs an Asynq task for a billing run.
func NewBillingRunTask(payload BillingRunPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBillingMonthlyRun, data), nil
}
