// Package schema validates inbound event payloads against JSON
// Schemas. Malformed events are rejected before dispatch with a
// validation error and never retried.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/quorumfi/finagent/pkg/contracts"
)

const bankTransactionSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["transaction_id", "amount_cents", "date"],
	"properties": {
		"transaction_id": {"type": "string", "minLength": 1},
		"description": {"type": "string"},
		"amount_cents": {"type": "integer"},
		"date": {"type": "string", "format": "date-time"},
		"account_id": {"type": "string"},
		"counterparty_account": {"type": "string"}
	}
}`

const billSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["bill_id", "vendor", "amount_cents"],
	"properties": {
		"bill_id": {"type": "string", "minLength": 1},
		"vendor": {"type": "string", "minLength": 1},
		"amount_cents": {"type": "integer", "minimum": 0},
		"description": {"type": "string"},
		"issued_at": {"type": "string", "format": "date-time"},
		"due_at": {"type": "string", "format": "date-time"}
	}
}`

const schedulerSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"task": {"type": "string"},
		"entity_id": {"type": "string"},
		"run_date": {"type": "string", "format": "date-time"}
	}
}`

// Validator holds compiled payload schemas per event type.
type Validator struct {
	schemas map[contracts.EventType]*jsonschema.Schema
}

// NewValidator compiles the built-in event schemas.
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[contracts.EventType]*jsonschema.Schema)}
	for eventType, src := range map[contracts.EventType]string{
		contracts.EventBankTransactionCreated: bankTransactionSchema,
		contracts.EventBillCreated:            billSchema,
		contracts.EventSchedulerDaily:         schedulerSchema,
		contracts.EventSchedulerWeekly:        schedulerSchema,
	} {
		compiled, err := compile(string(eventType), src)
		if err != nil {
			return nil, err
		}
		v.schemas[eventType] = compiled
	}
	return v, nil
}

func compile(name, src string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://finagent.schemas.local/events/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("schema %s load failed: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema %s compile failed: %w", name, err)
	}
	return compiled, nil
}

// Known reports whether the event type has a registered schema.
func (v *Validator) Known(t contracts.EventType) bool {
	_, ok := v.schemas[t]
	return ok
}

// Validate checks a payload against its event type's schema.
func (v *Validator) Validate(t contracts.EventType, payload json.RawMessage) error {
	s, ok := v.schemas[t]
	if !ok {
		return fmt.Errorf("no schema for event type %q", t)
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("payload invalid for %s: %w", t, err)
	}
	return nil
}
