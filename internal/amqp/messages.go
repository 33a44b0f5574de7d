package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ledgercache/internal/core"
)

// MessageType names a period lifecycle event.
type MessageType string

const (
	PeriodClosed        MessageType = "period.closed"
	JournalPeriodClosed MessageType = "journal_period.closed"
	PeriodReopened      MessageType = "period.reopened"
	BalancesDeleted     MessageType = "balances.deleted"
	SweepRequested      MessageType = "sweep.requested"
)

var ErrInvalidMessage = errors.New("invalid lifecycle message")

// KeyRef is the wire form of a cache key.
type KeyRef struct {
	AccountID core.AccountID `json:"account_id"`
	PeriodID  core.PeriodID  `json:"period_id"`
	JournalID core.JournalID `json:"journal_id"`
}

func (k KeyRef) Key() core.Key {
	return core.Key{AccountID: k.AccountID, PeriodID: k.PeriodID, JournalID: k.JournalID}
}

// LifecycleMessage is published by the ledger when periods change state.
// The worker only needs ids; it reads everything else from the database.
type LifecycleMessage struct {
	Type      MessageType    `json:"type"`
	PeriodID  core.PeriodID  `json:"period_id,omitempty"`
	JournalID core.JournalID `json:"journal_id,omitempty"`
	Keys      []KeyRef       `json:"keys,omitempty"`
	Recompute bool           `json:"recompute,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func NewPeriodClosedMessage(period core.PeriodID) *LifecycleMessage {
	return &LifecycleMessage{Type: PeriodClosed, PeriodID: period, Timestamp: time.Now()}
}

func NewJournalPeriodClosedMessage(period core.PeriodID, journal core.JournalID) *LifecycleMessage {
	return &LifecycleMessage{Type: JournalPeriodClosed, PeriodID: period, JournalID: journal, Timestamp: time.Now()}
}

func NewPeriodReopenedMessage(period core.PeriodID) *LifecycleMessage {
	return &LifecycleMessage{Type: PeriodReopened, PeriodID: period, Timestamp: time.Now()}
}

// NewBalancesDeletedMessage announces manually deleted cache rows; recompute
// asks the consumer to rebuild them.
func NewBalancesDeletedMessage(keys []core.Key, recompute bool) *LifecycleMessage {
	refs := make([]KeyRef, len(keys))
	for i, k := range keys {
		refs[i] = KeyRef{AccountID: k.AccountID, PeriodID: k.PeriodID, JournalID: k.JournalID}
	}
	return &LifecycleMessage{Type: BalancesDeleted, Keys: refs, Recompute: recompute, Timestamp: time.Now()}
}

func NewSweepRequestedMessage() *LifecycleMessage {
	return &LifecycleMessage{Type: SweepRequested, Timestamp: time.Now()}
}

// CacheKeys converts the wire keys.
func (m *LifecycleMessage) CacheKeys() []core.Key {
	out := make([]core.Key, len(m.Keys))
	for i, k := range m.Keys {
		out[i] = k.Key()
	}
	return out
}

// Validate checks that the fields required by the message type are set.
func (m *LifecycleMessage) Validate() error {
	switch m.Type {
	case PeriodClosed, PeriodReopened:
		if m.PeriodID <= 0 {
			return fmt.Errorf("%w: %s without period_id", ErrInvalidMessage, m.Type)
		}
	case JournalPeriodClosed:
		if m.PeriodID <= 0 || m.JournalID <= 0 {
			return fmt.Errorf("%w: %s needs period_id and journal_id", ErrInvalidMessage, m.Type)
		}
	case BalancesDeleted:
		if len(m.Keys) == 0 {
			return fmt.Errorf("%w: %s without keys", ErrInvalidMessage, m.Type)
		}
	case SweepRequested:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	}
	return nil
}

// ToJSON converts the message to JSON bytes
func (m *LifecycleMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LifecycleMessageFromJSON decodes and validates a message.
func LifecycleMessageFromJSON(data []byte) (*LifecycleMessage, error) {
	var msg LifecycleMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
