// Package metrics holds the Prometheus collectors of the arena engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespaceArena = "arena"

const (
	subsystemSession = "session"
	subsystemLobby   = "lobby"
	subsystemLedger  = "ledger"
	subsystemStore   = "store"
)

// ArenaCollector is safe to use as a nil pointer; every method is then a
// no-op, which keeps tests and tools free of registry plumbing.
type ArenaCollector struct {
	sessionsStarted  *prometheus.CounterVec
	gradings         prometheus.Counter
	settlements      *prometheus.CounterVec
	cancellations    *prometheus.CounterVec
	answersAccepted  prometheus.Counter
	answerRejections *prometheus.CounterVec
	activeSessions   prometheus.Gauge

	openLobbies  prometheus.Gauge
	lobbyExpired *prometheus.CounterVec

	ledgerApplies     *prometheus.CounterVec
	ledgerReplays     prometheus.Counter
	ledgerConflicts   prometheus.Counter
	insufficientFunds prometheus.Counter

	staleWrites prometheus.Counter
}

func NewArenaCollector(reg prometheus.Registerer) *ArenaCollector {
	f := promauto.With(reg)

	return &ArenaCollector{
		sessionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceArena,
			Subsystem: subsystemSession,
			Name:      "started_total",
			Help:      "count of competitive sessions started",
		}, []string{"mode"}),

		gradings: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceArena,
			Subsystem: subsystemSession,
			Name:      "gradings_total",
			Help:      "count of rounds graded",
		}),

		settlements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceArena,
			Subsystem: subsystemSession,
			Name:      "settlements_total",
			Help:      "count of sessions settled",
		}, []string{"mode"}),

		cancellations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceArena,
			Subsystem: subsystemSession,
			Name:      "cancellations_total",
			Help:      "count of sessions closed before settlement",
		}, []string{"reason"}),

		answersAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceArena,
			Subsystem: subsystemSession,
			Name:      "answers_accepted_total",
			Help:      "count of answers accepted",
		}),

		answerRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceArena,
			Subsystem: subsystemSession,
			Name:      "answers_rejected_total",
			Help:      "count of answers rejected, by reason",
		}, []string{"reason"}),

		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceArena,
			Subsystem: subsystemSession,
			Name:      "active",
			Help:      "number of sessions not yet closed",
		}),

		openLobbies: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceArena,
			Subsystem: subsystemLobby,
			Name:      "open",
			Help:      "number of lobbies waiting for members",
		}),

		lobbyExpired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceArena,
			Subsystem: subsystemLobby,
			Name:      "expired_total",
			Help:      "count of lobbies dissolved on timeout",
		}, []string{"mode"}),

		ledgerApplies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceArena,
			Subsystem: subsystemLedger,
			Name:      "applied_total",
			Help:      "count of ledger transactions committed, by reason",
		}, []string{"reason"}),

		ledgerReplays: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceArena,
			Subsystem: subsystemLedger,
			Name:      "replayed_total",
			Help:      "count of ledger applies answered from an existing transaction",
		}),

		ledgerConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceArena,
			Subsystem: subsystemLedger,
			Name:      "conflicts_total",
			Help:      "count of idempotency keys reused with a different effect",
		}),

		insufficientFunds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceArena,
			Subsystem: subsystemLedger,
			Name:      "insufficient_funds_total",
			Help:      "count of debits refused for balance",
		}),

		staleWrites: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceArena,
			Subsystem: subsystemStore,
			Name:      "stale_writes_total",
			Help:      "count of session writes rejected on version",
		}),
	}
}

func (c *ArenaCollector) SessionStarted(mode string) {
	if c == nil {
		return
	}
	c.sessionsStarted.WithLabelValues(mode).Inc()
	c.activeSessions.Inc()
}

func (c *ArenaCollector) RoundGraded() {
	if c == nil {
		return
	}
	c.gradings.Inc()
}

func (c *ArenaCollector) SessionSettled(mode string) {
	if c == nil {
		return
	}
	c.settlements.WithLabelValues(mode).Inc()
}

func (c *ArenaCollector) SessionCancelled(reason string) {
	if c == nil {
		return
	}
	c.cancellations.WithLabelValues(reason).Inc()
}

func (c *ArenaCollector) SessionClosed() {
	if c == nil {
		return
	}
	c.activeSessions.Dec()
}

// SessionResumed counts a session picked up from the store after a restart.
func (c *ArenaCollector) SessionResumed() {
	if c == nil {
		return
	}
	c.activeSessions.Inc()
}

func (c *ArenaCollector) AnswerAccepted() {
	if c == nil {
		return
	}
	c.answersAccepted.Inc()
}

func (c *ArenaCollector) AnswerRejected(reason string) {
	if c == nil {
		return
	}
	c.answerRejections.WithLabelValues(reason).Inc()
}

func (c *ArenaCollector) LobbyOpened() {
	if c == nil {
		return
	}
	c.openLobbies.Inc()
}

func (c *ArenaCollector) LobbyDone() {
	if c == nil {
		return
	}
	c.openLobbies.Dec()
}

func (c *ArenaCollector) LobbyExpired(mode string) {
	if c == nil {
		return
	}
	c.lobbyExpired.WithLabelValues(mode).Inc()
}

func (c *ArenaCollector) LedgerApplied(reason string) {
	if c == nil {
		return
	}
	c.ledgerApplies.WithLabelValues(reason).Inc()
}

func (c *ArenaCollector) LedgerReplayed() {
	if c == nil {
		return
	}
	c.ledgerReplays.Inc()
}

func (c *ArenaCollector) LedgerConflict() {
	if c == nil {
		return
	}
	c.ledgerConflicts.Inc()
}

func (c *ArenaCollector) InsufficientFunds() {
	if c == nil {
		return
	}
	c.insufficientFunds.Inc()
}

func (c *ArenaCollector) StaleWrite() {
	if c == nil {
		return
	}
	c.staleWrites.Inc()
}
