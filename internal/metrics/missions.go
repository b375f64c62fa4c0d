package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(missionsProcessedTotal, missionsInProgress, videoPollCyclesTotal, missionDurationSeconds)
}

var missionsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "missions_processed_total",
		Help: "Total number of missions driven to a terminal state, labeled by type and status.",
	},
	[]string{"type", "status"}, // status: 'completed', 'failed'
)

var missionsInProgress = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "missions_in_progress",
		Help: "Number of missions currently in progress (0 or 1 by design).",
	},
)

var videoPollCyclesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "video_poll_cycles_total",
		Help: "Total number of poll cycles issued against remote video operations.",
	},
)

var missionDurationSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "mission_duration_seconds",
		Help:    "Wall-clock duration from claim to terminal state, labeled by type.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	},
	[]string{"type"},
)

func MissionStarted() {
	missionsInProgress.Inc()
}

func MissionFinished(missionType, status string, seconds float64) {
	missionsInProgress.Dec()
	missionsProcessedTotal.WithLabelValues(norm(missionType), norm(status)).Inc()
	missionDurationSeconds.WithLabelValues(norm(missionType)).Observe(seconds)
}

// MissionInterrupted releases the in-progress slot without recording a
// terminal status (shutdown mid-mission; the mission is requeued on restart).
func MissionInterrupted() {
	missionsInProgress.Dec()
}

func VideoPollCycle() {
	videoPollCyclesTotal.Inc()
}
