package contracts

import "time"

// BankTransaction is the payload of a bank_transaction_created event.
// Amounts are integer cents; see pkg/finance.
type BankTransaction struct {
	TransactionID       string    `json:"transaction_id"`
	Description         string    `json:"description"`
	AmountCents         int64     `json:"amount_cents"`
	Date                time.Time `json:"date"`
	AccountID           string    `json:"account_id"`
	CounterpartyAccount string    `json:"counterparty_account,omitempty"`
}

// Bill is the payload of a bill_created event.
type Bill struct {
	BillID      string    `json:"bill_id"`
	Vendor      string    `json:"vendor"`
	AmountCents int64     `json:"amount_cents"`
	Description string    `json:"description,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
	DueAt       time.Time `json:"due_at,omitempty"`
}

// SchedulerTask is the payload of scheduler_daily / scheduler_weekly
// events. The scheduler is external; these are ordinary events and the
// orchestrator manages no wall-clock timers of its own.
type SchedulerTask struct {
	Task     string    `json:"task,omitempty"`
	EntityID string    `json:"entity_id,omitempty"`
	RunDate  time.Time `json:"run_date"`
}
