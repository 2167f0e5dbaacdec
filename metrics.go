package volstream

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/opd-ai/volstream/av"
	"github.com/opd-ai/volstream/transport"
)

const metricsNamespace = "volstream"

// Metrics holds the Prometheus collectors of a viewer.
type Metrics struct {
	ActiveSessions  *prometheus.GaugeVec
	SessionsStarted prometheus.Counter
	SessionsEnded   *prometheus.CounterVec

	PacketsReceived *prometheus.CounterVec
	PacketsDropped  *prometheus.CounterVec

	FramesCompleted   prometheus.Counter
	FramesRecovered   prometheus.Counter
	FramesAbandoned   prometheus.Counter
	FragmentsRejected prometheus.Counter
	InvalidMessages   prometheus.Counter

	FramesDecoded  prometheus.Counter
	DecodeErrors   prometheus.Counter
	FramesRendered prometheus.Counter
	HandoffDropped prometheus.Counter
	ReportsSent    prometheus.Counter
	AudioFrames    prometheus.Counter

	DecodeDuration prometheus.Histogram
}

// NewMetrics creates the viewer collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		ActiveSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions",
			Help:      "Number of sessions by state",
		}, []string{"state"}),
		SessionsStarted: counter("sessions_started_total", "Connections initiated"),
		SessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_ended_total",
			Help:      "Sessions ended by reason",
		}, []string{"reason"}),

		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "packets_received_total",
			Help:      "Decoded packets by type",
		}, []string{"type"}),
		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "packets_dropped_total",
			Help:      "Discarded datagrams by reason",
		}, []string{"reason"}),

		FramesCompleted:   counter("frames_completed_total", "Video frames fully assembled"),
		FramesRecovered:   counter("frames_recovered_total", "Video frames completed through FEC"),
		FramesAbandoned:   counter("frames_abandoned_total", "Incomplete video frames purged"),
		FragmentsRejected: counter("fragments_rejected_total", "Stale, duplicate or inconsistent fragments"),
		InvalidMessages:   counter("invalid_messages_total", "Assembled frames with an invalid layout"),

		FramesDecoded:  counter("frames_decoded_total", "Video frames decoded"),
		DecodeErrors:   counter("decode_errors_total", "Video frames that failed to decode"),
		FramesRendered: counter("frames_rendered_total", "Frames handed to the renderer"),
		HandoffDropped: counter("handoff_dropped_total", "Frames replaced before the renderer took them"),
		ReportsSent:    counter("reports_sent_total", "Report packets sent"),
		AudioFrames:    counter("audio_frames_total", "Audio frames decoded"),

		DecodeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "decode_duration_seconds",
			Help:      "Time spent decoding one tick's frames of a session",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
	}

	collectors := []prometheus.Collector{
		m.ActiveSessions, m.SessionsStarted, m.SessionsEnded,
		m.PacketsReceived, m.PacketsDropped,
		m.FramesCompleted, m.FramesRecovered, m.FramesAbandoned, m.FragmentsRejected, m.InvalidMessages,
		m.FramesDecoded, m.DecodeErrors, m.FramesRendered, m.HandoffDropped, m.ReportsSent, m.AudioFrames,
		m.DecodeDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeCollection(c *transport.PacketCollection) {
	if m == nil {
		return
	}
	for t, n := range c.Received {
		m.PacketsReceived.WithLabelValues(t.String()).Add(float64(n))
	}
	for reason, n := range c.Dropped {
		m.PacketsDropped.WithLabelValues(string(reason)).Add(float64(n))
	}
}

func (m *Metrics) observeUpdate(result av.UpdateResult) {
	if m == nil {
		return
	}
	a := result.Assembly
	m.FramesCompleted.Add(float64(a.FramesCompleted))
	m.FramesRecovered.Add(float64(a.FramesRecovered))
	m.FramesAbandoned.Add(float64(a.FramesAbandoned))
	m.FragmentsRejected.Add(float64(a.FragmentsRejected))
	m.InvalidMessages.Add(float64(a.InvalidMessages))

	p := result.Pipeline
	m.FramesDecoded.Add(float64(p.Decoded))
	m.DecodeErrors.Add(float64(p.DecodeErrors))
	m.AudioFrames.Add(float64(result.Audio.Decoded))
	if len(a.Frames) > 0 {
		m.DecodeDuration.Observe(p.DecodeDuration.Seconds())
		if p.ReportErr == nil {
			m.ReportsSent.Inc()
		}
	}
	if result.Rendered {
		m.FramesRendered.Inc()
	}
}

func (m *Metrics) observeEnded(event av.SessionEvent) {
	if m == nil {
		return
	}
	m.SessionsEnded.WithLabelValues(event.Reason.String()).Inc()
}

func (m *Metrics) setSessions(sessions []av.SessionInfo) {
	if m == nil {
		return
	}
	counts := map[av.SessionState]int{
		av.SessionUnprepared: 0,
		av.SessionPreparing:  0,
		av.SessionPrepared:   0,
	}
	for _, s := range sessions {
		counts[s.State]++
	}
	for state, n := range counts {
		m.ActiveSessions.WithLabelValues(state.String()).Set(float64(n))
	}
}
