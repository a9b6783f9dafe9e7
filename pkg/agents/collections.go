package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/quorumfi/finagent/pkg/accounting"
	"github.com/quorumfi/finagent/pkg/contracts"
)

// ARActionCollections is the action class for the receivables chase run.
const ARActionCollections = "ar_collections"

// invoiceTermDays is the assumed payment term when an invoice carries
// no explicit due date.
const invoiceTermDays = 30

// reminder ladder: days overdue at which the tone escalates.
var reminderTiers = []struct {
	days int
	tier string
}{
	{30, "final_notice"},
	{14, "second_reminder"},
	{7, "first_reminder"},
}

// ARCollectionsAgent builds the daily receivables chase list. It only
// proposes reminders; actual outreach goes through the notification
// gateway after gating.
type ARCollectionsAgent struct {
	accounting accounting.System
	logger     *slog.Logger
}

// NewARCollectionsAgent wires the agent to the accounting system.
func NewARCollectionsAgent(system accounting.System, logger *slog.Logger) *ARCollectionsAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &ARCollectionsAgent{accounting: system, logger: logger.With("agent", "ar_collections")}
}

func (a *ARCollectionsAgent) ID() string { return "ar_collections" }

func (a *ARCollectionsAgent) EventType() contracts.EventType { return contracts.EventSchedulerDaily }

// Handle tiers overdue invoices into the reminder ladder.
func (a *ARCollectionsAgent) Handle(ctx context.Context, event *contracts.Event) (*contracts.AgentResult, error) {
	start := time.Now()

	var task contracts.SchedulerTask
	if err := json.Unmarshal(event.Payload, &task); err != nil {
		return nil, contracts.NewPipelineError(contracts.KindValidation, event.ID, a.ID(), 0,
			fmt.Errorf("decode scheduler task: %w", err))
	}
	asOf := task.RunDate
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	invoices, err := a.accounting.FindCandidateRecords(ctx, accounting.RecordFilter{
		Kind:     "invoice",
		OpenOnly: true,
	})
	if err != nil {
		return nil, contracts.NewPipelineError(contracts.KindMatching, event.ID, a.ID(), 0,
			fmt.Errorf("load open invoices: %w", err))
	}

	type chase struct {
		InvoiceID    string `json:"invoice_id"`
		Counterparty string `json:"counterparty,omitempty"`
		AmountCents  int64  `json:"amount_cents"`
		DaysOverdue  int    `json:"days_overdue"`
		Tier         string `json:"tier"`
	}
	var chases []chase
	var totalOverdue int64
	for _, inv := range invoices {
		due := inv.IssuedAt.AddDate(0, 0, invoiceTermDays)
		overdue := int(asOf.Sub(due).Hours() / 24)
		if overdue < reminderTiers[len(reminderTiers)-1].days {
			continue
		}
		tier := ""
		for _, t := range reminderTiers {
			if overdue >= t.days {
				tier = t.tier
				break
			}
		}
		chases = append(chases, chase{
			InvoiceID:    inv.ID,
			Counterparty: inv.Counterparty,
			AmountCents:  inv.AmountCents,
			DaysOverdue:  overdue,
			Tier:         tier,
		})
		totalOverdue += inv.AmountCents
	}
	sort.Slice(chases, func(i, j int) bool { return chases[i].DaysOverdue > chases[j].DaysOverdue })

	status := contracts.StatusOK
	if len(chases) > 0 {
		status = contracts.StatusAlert
	}

	a.logger.Info("collections run", "open_invoices", len(invoices), "overdue", len(chases), "overdue_cents", totalOverdue)

	return timed(&contracts.AgentResult{
		Agent:       a.ID(),
		Status:      status,
		Action:      ARActionCollections,
		Confidence:  0.85,
		AmountCents: totalOverdue,
		Rationale:   fmt.Sprintf("%d overdue invoices totalling %d cents", len(chases), totalOverdue),
		Context: map[string]any{
			"chase_list": chases,
			"as_of":      asOf.Format(time.RFC3339),
		},
	}, start), nil
}
