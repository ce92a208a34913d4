package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// PrecommitBuckets for in-memory optimistic validation latencies
	PrecommitBuckets = []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01}

	// DispatchWaitBuckets for caller-side waits on a worker session
	DispatchWaitBuckets = []float64{0.00001, 0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5}
)

// Transaction Metrics
var (
	// TxnTotal counts finished transactions by result (committed, race_abort, abort, error)
	TxnTotal CounterVec = noopCounterVec{}

	// RaceAbortsTotal counts precommit failures by phase (lock, validation)
	RaceAbortsTotal CounterVec = noopCounterVec{}

	// PrecommitSeconds measures precommit latency
	PrecommitSeconds Histogram = NoopStat{}

	// ReadSetSize tracks the read-set length of committed transactions
	ReadSetSize Gauge = NoopStat{}

	// WriteSetSize tracks the write-set length of committed transactions
	WriteSetSize Gauge = NoopStat{}
)

// Dispatch Metrics
var (
	// DispatchTotal counts dispatch attempts by result (accepted, canceled, stopped)
	DispatchTotal CounterVec = noopCounterVec{}

	// SessionWaitSeconds measures how long callers wait on session results
	SessionWaitSeconds Histogram = NoopStat{}

	// WorkersBusy tracks the number of workers currently running a task
	WorkersBusy Gauge = NoopStat{}
)

// Clock and Memory Metrics
var (
	// CurrentEpoch mirrors the global epoch value
	CurrentEpoch Gauge = NoopStat{}

	// PoolFreeFrames tracks free record frames per NUMA node
	PoolFreeFrames GaugeVec = noopGaugeVec{}
)

// InitMetrics binds the metric variables to the Prometheus registry.
// Must be called after the registry exists; until then all metrics are noops.
func InitMetrics() {
	TxnTotal = NewCounterVec(
		"txn_total",
		"Finished transactions by result",
		[]string{"result"},
	)
	RaceAbortsTotal = NewCounterVec(
		"race_aborts_total",
		"Precommit race aborts by phase",
		[]string{"phase"},
	)
	PrecommitSeconds = NewHistogramWithBuckets(
		"precommit_seconds",
		"Precommit latency",
		PrecommitBuckets,
	)
	ReadSetSize = NewGauge(
		"read_set_size",
		"Read-set length of the most recently committed transaction",
	)
	WriteSetSize = NewGauge(
		"write_set_size",
		"Write-set length of the most recently committed transaction",
	)

	DispatchTotal = NewCounterVec(
		"dispatch_total",
		"Dispatch attempts by result",
		[]string{"result"},
	)
	SessionWaitSeconds = NewHistogramWithBuckets(
		"session_wait_seconds",
		"Caller wait time on session results",
		DispatchWaitBuckets,
	)
	WorkersBusy = NewGauge(
		"workers_busy",
		"Workers currently running a task",
	)

	CurrentEpoch = NewGauge(
		"current_epoch",
		"Current global epoch",
	)
	PoolFreeFrames = NewGaugeVec(
		"pool_free_frames",
		"Free record frames per NUMA node",
		[]string{"node"},
	)
}
