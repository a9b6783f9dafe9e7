package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumfi/finagent/pkg/contracts"
)

func TestValidatorAcceptsWellFormedPayloads(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	cases := map[contracts.EventType]string{
		contracts.EventBankTransactionCreated: `{"transaction_id":"txn-1","amount_cents":25000,"date":"2026-03-02T00:00:00Z","description":"Payment"}`,
		contracts.EventBillCreated:            `{"bill_id":"bill-1","vendor":"Acme Pty Ltd","amount_cents":9900}`,
		contracts.EventSchedulerDaily:         `{"run_date":"2026-03-02T00:00:00Z"}`,
		contracts.EventSchedulerWeekly:        `{"task":"bas_prep","run_date":"2026-03-02T00:00:00Z"}`,
	}
	for eventType, payload := range cases {
		assert.NoError(t, v.Validate(eventType, json.RawMessage(payload)), string(eventType))
	}
}

func TestValidatorRejectsMissingRequiredFields(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	assert.Error(t, v.Validate(contracts.EventBankTransactionCreated,
		json.RawMessage(`{"description":"no id or amount"}`)))
	assert.Error(t, v.Validate(contracts.EventBillCreated,
		json.RawMessage(`{"bill_id":"b-1","amount_cents":100}`))) // vendor missing
	assert.Error(t, v.Validate(contracts.EventBillCreated,
		json.RawMessage(`{"bill_id":"b-1","vendor":"Acme","amount_cents":-5}`)))
}

func TestValidatorRejectsWrongTypes(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	assert.Error(t, v.Validate(contracts.EventBankTransactionCreated,
		json.RawMessage(`{"transaction_id":"t","amount_cents":"25000","date":"2026-03-02T00:00:00Z"}`)))
	assert.Error(t, v.Validate(contracts.EventBankTransactionCreated, json.RawMessage(`not json`)))
}

func TestValidatorKnownTypes(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	assert.True(t, v.Known(contracts.EventBankTransactionCreated))
	assert.True(t, v.Known(contracts.EventSchedulerWeekly))
	assert.False(t, v.Known(contracts.EventType("crypto_airdrop")))
}
