// Package metrics exposes the engine's Prometheus instruments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "duel_tournaments"

// Completion results recorded by MatchCompletion.
const (
	ResultApplied = "applied"
	ResultIgnored = "ignored"
)

// Recorder is safe to use as a nil pointer; every method is then a no-op.
type Recorder struct {
	roundsStarted       *prometheus.CounterVec
	matchCompletions    *prometheus.CounterVec
	tournamentsFinished *prometheus.CounterVec
	startRoundDuration  prometheus.Histogram
}

func NewRecorder(registry prometheus.Registerer) *Recorder {
	r := &Recorder{
		roundsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_started_total",
			Help:      "Rounds started, by tournament format.",
		}, []string{"format"}),
		matchCompletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_completions_total",
			Help:      "Duel completion notifications, by whether they were applied or ignored.",
		}, []string{"result"}),
		tournamentsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tournaments_finished_total",
			Help:      "Tournaments that reached a terminal status.",
		}, []string{"status"}),
		startRoundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "start_round_seconds",
			Help:      "Time spent starting a round, collaborator calls included.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	registry.MustRegister(r.roundsStarted, r.matchCompletions, r.tournamentsFinished, r.startRoundDuration)
	return r
}

func (r *Recorder) RoundStarted(format string, took time.Duration) {
	if r == nil {
		return
	}
	r.roundsStarted.WithLabelValues(format).Inc()
	r.startRoundDuration.Observe(took.Seconds())
}

func (r *Recorder) MatchCompletion(result string) {
	if r == nil {
		return
	}
	r.matchCompletions.WithLabelValues(result).Inc()
}

func (r *Recorder) TournamentFinished(status string) {
	if r == nil {
		return
	}
	r.tournamentsFinished.WithLabelValues(status).Inc()
}
