package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/jmerrifield20/auditledger/internal/ledger")

var (
	appendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditledger_appends_total",
		Help: "Append attempts by action and result (ok, invalid, contention, storage).",
	}, []string{"action", "result"})

	appendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "auditledger_append_duration_seconds",
		Help:    "Time from Append call to committed entry.",
		Buckets: prometheus.DefBuckets,
	})

	tailConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auditledger_tail_conflicts_total",
		Help: "Compare-and-swap conflicts on the ledger tail that triggered a retry.",
	})

	chainHead = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auditledger_chain_head_sequence",
		Help: "Sequence number of the most recently committed entry seen by this process.",
	})

	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditledger_verifications_total",
		Help: "Integrity verification runs by outcome (valid, invalid, error).",
	}, []string{"result"})

	lastViolations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auditledger_last_verification_violations",
		Help: "Number of violations found by the most recent verification run.",
	})

	recordDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditledger_record_dropped_total",
		Help: "Audit records a fail-open producer could not append.",
	}, []string{"producer"})
)
