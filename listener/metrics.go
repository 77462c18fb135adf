package listener

import (
	"github.com/prometheus/client_golang/prometheus"

	"scanner-voice/voice_config"
)

type Metrics struct {
	Transitions     *prometheus.CounterVec
	Utterances      prometheus.Counter
	Matches         *prometheus.CounterVec
	LLMExchanges    *prometheus.CounterVec
	CaptureFailures *prometheus.CounterVec
	OutputFailures  prometheus.Counter
	Panics          prometheus.Counter
	Mode            *prometheus.GaugeVec
}

// NewMetrics registers the loop's collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scanner_voice",
			Name:      "mode_transitions_total",
			Help:      "Mode transitions by source mode, target mode and reason.",
		}, []string{"from", "to", "reason"}),
		Utterances: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scanner_voice",
			Name:      "utterances_total",
			Help:      "Recognized utterances long enough to be handled.",
		}),
		Matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scanner_voice",
			Name:      "matches_total",
			Help:      "Wake name and script phrase matches.",
		}, []string{"kind"}),
		LLMExchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scanner_voice",
			Name:      "llm_exchanges_total",
			Help:      "LLM exchanges by result.",
		}, []string{"result"}),
		CaptureFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scanner_voice",
			Name:      "capture_failures_total",
			Help:      "Failed capture or recognition iterations by error kind.",
		}, []string{"kind"}),
		OutputFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scanner_voice",
			Name:      "output_failures_total",
			Help:      "Failed beep or speech playbacks.",
		}),
		Panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scanner_voice",
			Name:      "recovered_panics_total",
			Help:      "Loop iterations that panicked and were recovered.",
		}),
		Mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "scanner_voice",
			Name:      "mode",
			Help:      "1 for the current mode, 0 otherwise.",
		}, []string{"mode"}),
	}

	reg.MustRegister(
		m.Transitions,
		m.Utterances,
		m.Matches,
		m.LLMExchanges,
		m.CaptureFailures,
		m.OutputFailures,
		m.Panics,
		m.Mode,
	)

	return m
}

func (m *Metrics) setMode(current voice_config.Mode) {
	for _, mode := range voice_config.Modes {
		value := 0.0
		if mode == current {
			value = 1
		}
		m.Mode.WithLabelValues(string(mode)).Set(value)
	}
}
