package simulation

import (
	"context"

	"ticksync/logging"
)

const (
	// EventTickBudgetOverrun is emitted when a host tick exceeds the fixed tick duration.
	EventTickBudgetOverrun logging.EventType = "simulation.tick_budget_overrun"
	// EventClockSnap is emitted when a remote clock estimate jumps to the observed watermark.
	EventClockSnap logging.EventType = "simulation.clock_snap"
)

// TickBudgetOverrunPayload captures timing details for a tick budget breach.
type TickBudgetOverrunPayload struct {
	DurationMillis int64   `json:"durationMillis"`
	BudgetMillis   int64   `json:"budgetMillis"`
	Ratio          float64 `json:"ratio"`
	Streak         uint64  `json:"streak"`
}

// ClockSnapPayload records the estimate before and after a snap.
type ClockSnapPayload struct {
	Estimated uint64 `json:"estimated"`
	Watermark uint64 `json:"watermark"`
	Snaps     uint64 `json:"snaps"`
}

// TickBudgetOverrun publishes a warning when the loop exceeds the configured tick budget.
func TickBudgetOverrun(ctx context.Context, pub logging.Publisher, tick uint64, payload TickBudgetOverrunPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	severity := logging.SeverityWarn
	if payload.Ratio >= 2 {
		severity = logging.SeverityError
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTickBudgetOverrun,
		Tick:     tick,
		Severity: severity,
		Category: logging.CategorySimulation,
		Payload:  payload,
		Extra:    extra,
	})
}

// ClockSnap publishes an info event when a clock estimate snaps forward.
func ClockSnap(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ClockSnapPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventClockSnap,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategorySimulation,
		Payload:  payload,
		Extra:    extra,
	})
}
