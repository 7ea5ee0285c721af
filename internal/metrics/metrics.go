package metrics

import (
	"sync"
	"sync/atomic"
)

// engineStats holds counters for the workflow/SLA engine.
// Kept simple/thread-safe for use from services and exposition.
type engineStats struct {
	eventsProcessed uint64
	rulesExecuted   uint64
	rulesFailed     uint64
	slaWarnings     uint64
	slaBreaches     uint64
	escalations     uint64

	mu      sync.Mutex
	byEvent map[string]uint64
}

var engine engineStats

// IncEventProcessed increments the per-trigger-event counter.
func IncEventProcessed(triggerEvent string) {
	if triggerEvent == "" {
		triggerEvent = "unknown"
	}
	atomic.AddUint64(&engine.eventsProcessed, 1)
	engine.mu.Lock()
	if engine.byEvent == nil {
		engine.byEvent = make(map[string]uint64)
	}
	engine.byEvent[triggerEvent]++
	engine.mu.Unlock()
}

func IncRuleExecuted() { atomic.AddUint64(&engine.rulesExecuted, 1) }
func IncRuleFailed()   { atomic.AddUint64(&engine.rulesFailed, 1) }
func IncSLAWarning()   { atomic.AddUint64(&engine.slaWarnings, 1) }
func IncSLABreach()    { atomic.AddUint64(&engine.slaBreaches, 1) }
func IncEscalation()   { atomic.AddUint64(&engine.escalations, 1) }

// EngineSnapshot returns a copy of the current counters.
func EngineSnapshot() (totals map[string]uint64, byEvent map[string]uint64) {
	totals = map[string]uint64{
		"events_processed": atomic.LoadUint64(&engine.eventsProcessed),
		"rules_executed":   atomic.LoadUint64(&engine.rulesExecuted),
		"rules_failed":     atomic.LoadUint64(&engine.rulesFailed),
		"sla_warnings":     atomic.LoadUint64(&engine.slaWarnings),
		"sla_breaches":     atomic.LoadUint64(&engine.slaBreaches),
		"escalations":      atomic.LoadUint64(&engine.escalations),
	}
	engine.mu.Lock()
	defer engine.mu.Unlock()
	byEvent = make(map[string]uint64, len(engine.byEvent))
	for k, v := range engine.byEvent {
		byEvent[k] = v
	}
	return totals, byEvent
}
