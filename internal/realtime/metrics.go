package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

// 丢弃原因 label。
const (
	dropUnknownEvent      = "unknown_event"
	dropDuplicateMessage  = "duplicate_message"
	dropLocalEcho         = "local_echo"
	dropPrematureWaiting  = "premature_waiting"
	dropUnmatchedResult   = "unmatched_tool_result"
	dropInactiveTransport = "inactive"
)

var allStatuses = []Status{StatusDisconnected, StatusConnecting, StatusConnected, StatusError}

// Metrics 实时同步层的 Prometheus 指标。nil 接收者上的方法都是 no-op。
type Metrics struct {
	events       *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	dialFailures prometheus.Counter
	reconnects   prometheus.Counter
	busy         prometheus.Gauge
	status       *prometheus.GaugeVec
}

// NewMetrics 创建并注册指标。reg 为 nil 时使用默认 registry。
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent_sync",
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Normalized events dispatched, by kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent_sync",
			Subsystem: "realtime",
			Name:      "events_dropped_total",
			Help:      "Inbound events discarded before dispatch, by reason.",
		}, []string{"reason"}),
		dialFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agent_sync",
			Subsystem: "transport",
			Name:      "dial_failures_total",
			Help:      "Failed dial attempts, including retries.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agent_sync",
			Subsystem: "transport",
			Name:      "reconnects_total",
			Help:      "Successful reconnects after a dropped connection.",
		}),
		busy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agent_sync",
			Subsystem: "realtime",
			Name:      "agent_busy",
			Help:      "1 while the agent is processing the current turn.",
		}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "agent_sync",
			Subsystem: "transport",
			Name:      "status",
			Help:      "Connection status, 1 for the active state.",
		}, []string{"status"}),
	}
	for _, c := range []prometheus.Collector{m.events, m.dropped, m.dialFailures, m.reconnects, m.busy, m.status} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	m.setStatus(StatusDisconnected)
	return m, nil
}

func (m *Metrics) observeEvent(kind Kind) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) observeDrop(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) observeDialFailure() {
	if m == nil {
		return
	}
	m.dialFailures.Inc()
}

func (m *Metrics) observeReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) setBusy(busy bool) {
	if m == nil {
		return
	}
	if busy {
		m.busy.Set(1)
	} else {
		m.busy.Set(0)
	}
}

func (m *Metrics) setStatus(s Status) {
	if m == nil {
		return
	}
	for _, st := range allStatuses {
		v := 0.0
		if st == s {
			v = 1
		}
		m.status.WithLabelValues(string(st)).Set(v)
	}
}
