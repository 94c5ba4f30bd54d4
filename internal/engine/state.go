package engine

import (
	"fmt"
	"time"

	apperrors "DefiFlow/internal/errors"
	"DefiFlow/internal/flow"
)

// Step indexes of a run. Running(0) is entered when the trigger fires.
const (
	StepTriggered = iota
	StepSwitchToSwap
	StepSwap
	StepBridge
	StepSwitchToSettlement
	StepSettle
)

// StepCount is the number of external steps after the trigger.
const StepCount = StepSettle

// TxRecord is one submitted transaction.
type TxRecord struct {
	Step    int    `json:"step"`
	Kind    string `json:"kind"`
	Hash    string `json:"hash"`
	ChainID uint64 `json:"chainId"`
	URL     string `json:"url,omitempty"`
}

// State is a read-only snapshot of the execution.
type State struct {
	RunID        string           `json:"runId,omitempty"`
	Phase        Phase            `json:"phase"`
	Step         int              `json:"step"`
	StepName     string           `json:"stepName,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	Code         apperrors.Code   `json:"code,omitempty"`
	LastTxRef    string           `json:"lastTxRef,omitempty"`
	Transactions []TxRecord       `json:"transactions,omitempty"`
	Recipients   []flow.Recipient `json:"recipients,omitempty"`
	Trigger      string           `json:"trigger,omitempty"`
	FiredPrice   string           `json:"firedPrice,omitempty"`
	Summary      string           `json:"summary"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// TxFor returns the first transaction recorded for kind.
func (s State) TxFor(kind string) (TxRecord, bool) {
	for _, tx := range s.Transactions {
		if tx.Kind == kind {
			return tx, true
		}
	}
	return TxRecord{}, false
}

func (s State) clone() State {
	s.Transactions = append([]TxRecord(nil), s.Transactions...)
	s.Recipients = append([]flow.Recipient(nil), s.Recipients...)
	return s
}

// summarize states what has and has not happened on chain, so a partial
// completion is never reported as a plain failure.
func summarize(s State) string {
	switch s.Phase {
	case PhaseIdle:
		return "idle"
	case PhaseArmed:
		return "waiting for trigger: " + s.Trigger
	case PhaseRunning:
		if s.Step == StepTriggered {
			return "trigger fired at " + s.FiredPrice
		}
		return fmt.Sprintf("step %d of %d: %s", s.Step, StepCount, s.StepName)
	case PhaseComplete:
		return "swap succeeded, settlement succeeded"
	case PhaseFailed:
		switch {
		case s.Step <= StepSwitchToSwap:
			return "failed before any transaction was submitted"
		case s.Step == StepSwap:
			if _, ok := s.TxFor(txSwap); ok {
				return "swap failed after submission"
			}
			return "swap failed"
		case s.Step == StepBridge:
			return "swap succeeded, bridge transfer failed"
		default:
			return "swap succeeded, settlement failed"
		}
	}
	return string(s.Phase)
}
