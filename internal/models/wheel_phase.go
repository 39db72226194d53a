package models

import (
	"fmt"
	"time"
)

// WheelPhase represents where a symbol sits in the wheel cycle.
type WheelPhase string

const (
	// PhaseCash means no exposure: eligible for a new cash-secured put.
	PhaseCash WheelPhase = "cash"
	// PhasePutOpen means a short put is working; wait for expiry or assignment.
	PhasePutOpen WheelPhase = "put_open"
	// PhaseAssigned means shares were put to us; eligible for a covered call.
	PhaseAssigned WheelPhase = "assigned"
	// PhaseCallOpen means a covered call is working against assigned shares.
	PhaseCallOpen WheelPhase = "call_open"
	// PhaseMixed means holdings do not match a clean wheel state, e.g. long
	// options or a short call without share coverage. No recommendations.
	PhaseMixed WheelPhase = "mixed"
)

// WheelTransition defines a valid phase transition and the event driving it.
type WheelTransition struct {
	From        WheelPhase
	To          WheelPhase
	Event       string
	Description string
}

// ValidWheelTransitions enumerates the wheel cycle.
var ValidWheelTransitions = []WheelTransition{
	{PhaseCash, PhasePutOpen, "put_sold", "Cash-secured put sold"},
	{PhasePutOpen, PhaseCash, "put_expired", "Put expired worthless or bought back"},
	{PhasePutOpen, PhaseAssigned, "put_assigned", "Shares assigned at strike"},
	{PhaseAssigned, PhaseCallOpen, "call_sold", "Covered call sold against shares"},
	{PhaseAssigned, PhaseCash, "shares_sold", "Shares sold outright"},
	{PhaseCallOpen, PhaseAssigned, "call_expired", "Call expired worthless or bought back"},
	{PhaseCallOpen, PhaseCash, "called_away", "Shares called away at strike"},
}

// ClassifyWheelPhase derives a symbol's phase from current holdings.
func ClassifyWheelPhase(snapshot *AccountSnapshot, symbol string) WheelPhase {
	shares := snapshot.StockQuantity(symbol)
	options := snapshot.OptionsForUnderlying(symbol)

	var shortPuts, shortCalls, longs int
	for i := range options {
		o := &options[i]
		switch {
		case !o.IsShort():
			longs++
		case o.PutCall == OptionTypePut:
			shortPuts++
		default:
			shortCalls++
		}
	}

	holdsShares := shares.IntPart() >= SharesPerContract

	switch {
	case longs > 0:
		return PhaseMixed
	case shortPuts > 0 && shortCalls == 0 && !holdsShares:
		return PhasePutOpen
	case shortCalls > 0 && holdsShares && shortPuts == 0:
		return PhaseCallOpen
	case shortCalls > 0 && !holdsShares:
		return PhaseMixed
	case holdsShares:
		return PhaseAssigned
	case shortPuts > 0:
		// Short puts alongside a small share remnant still count as put_open.
		return PhasePutOpen
	default:
		return PhaseCash
	}
}

// WheelCycle tracks one symbol's progress around the wheel.
type WheelCycle struct {
	Symbol         string     `json:"symbol"`
	Phase          WheelPhase `json:"phase"`
	PreviousPhase  WheelPhase `json:"previous_phase,omitempty"`
	TransitionTime time.Time  `json:"transition_time"`
	CycleCount     int        `json:"cycle_count"`
}

// NewWheelCycle starts a cycle tracker in the cash phase.
func NewWheelCycle(symbol string) *WheelCycle {
	return &WheelCycle{
		Symbol:         symbol,
		Phase:          PhaseCash,
		PreviousPhase:  PhaseCash,
		TransitionTime: time.Now().UTC(),
	}
}

// Transition moves the cycle to a new phase if the wheel allows it.
// Returning to cash via called_away or put_expired counts a completed cycle.
func (w *WheelCycle) Transition(to WheelPhase, event string) error {
	for _, t := range ValidWheelTransitions {
		if t.From != w.Phase || t.To != to {
			continue
		}
		if t.Event != event {
			continue
		}
		w.PreviousPhase = w.Phase
		w.Phase = to
		w.TransitionTime = time.Now().UTC()
		if to == PhaseCash {
			w.CycleCount++
		}
		return nil
	}
	return fmt.Errorf("invalid wheel transition for %s: %s -> %s on %q", w.Symbol, w.Phase, to, event)
}

// Observe reconciles the tracker against a phase derived from live holdings,
// inferring the event. Unknown jumps reset the tracker rather than erroring,
// since manual trades can skip phases.
func (w *WheelCycle) Observe(phase WheelPhase) {
	if phase == w.Phase {
		return
	}
	for _, t := range ValidWheelTransitions {
		if t.From == w.Phase && t.To == phase {
			_ = w.Transition(phase, t.Event)
			return
		}
	}
	w.PreviousPhase = w.Phase
	w.Phase = phase
	w.TransitionTime = time.Now().UTC()
}

// WantsPuts reports whether the symbol should be ranked for new put sales.
func (w *WheelCycle) WantsPuts() bool {
	return w.Phase == PhaseCash
}

// WantsCalls reports whether the symbol should be ranked for covered calls.
func (w *WheelCycle) WantsCalls() bool {
	return w.Phase == PhaseAssigned
}

// Description returns a human-readable phase summary.
func (w *WheelCycle) Description() string {
	switch w.Phase {
	case PhaseCash:
		return "In cash, ready to sell a put"
	case PhasePutOpen:
		return "Short put working, waiting for expiry or assignment"
	case PhaseAssigned:
		return "Holding assigned shares, ready to sell a call"
	case PhaseCallOpen:
		return "Covered call working against assigned shares"
	case PhaseMixed:
		return "Holdings outside the wheel, skipping recommendations"
	default:
		return "Unknown phase"
	}
}
