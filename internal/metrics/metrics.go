package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 同步引擎和外围服务的指标
// 所有方法都允许 nil 接收者，未启用指标时直接传 nil
type Metrics struct {
	MessagesConfirmed   *prometheus.CounterVec
	MessagesUnconfirmed *prometheus.CounterVec
	SendFailures        *prometheus.CounterVec
	ConfirmLatency      prometheus.Histogram
	Reorders            *prometheus.CounterVec
	Rollbacks           *prometheus.CounterVec
	ActiveSessions      prometheus.Gauge
	RealtimeEvents      *prometheus.CounterVec
	InvalidPayloads     prometheus.Counter
	Notifications       *prometheus.CounterVec
	PromotionServed     prometheus.Counter
	FunctionCalls       *prometheus.CounterVec
}

// New 在 reg 上注册全部指标，reg 为 nil 时使用默认注册表
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		MessagesConfirmed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "planverse_messages_confirmed_total",
			Help: "Optimistic messages replaced by their server row, by source",
		}, []string{"source"}),
		MessagesUnconfirmed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "planverse_messages_unconfirmed_total",
			Help: "Optimistic messages still pending when the confirm timeout fired",
		}, []string{"policy"}),
		SendFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "planverse_message_send_failures_total",
			Help: "Message sends that failed, by stage",
		}, []string{"stage"}),
		ConfirmLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "planverse_message_confirm_seconds",
			Help:    "Time from local send to server confirmation",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 15},
		}),
		Reorders: f.NewCounterVec(prometheus.CounterOpts{
			Name: "planverse_conversation_reorders_total",
			Help: "Conversation reorder attempts, by result",
		}, []string{"result"}),
		Rollbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "planverse_optimistic_rollbacks_total",
			Help: "Optimistic updates reverted after a platform failure",
		}, []string{"op"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "planverse_sessions_active",
			Help: "Signed-in user sessions held in memory",
		}),
		RealtimeEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "planverse_realtime_events_total",
			Help: "Realtime change events applied to sessions",
		}, []string{"table", "type"}),
		InvalidPayloads: f.NewCounter(prometheus.CounterOpts{
			Name: "planverse_realtime_invalid_payloads_total",
			Help: "Realtime payloads rejected by schema validation",
		}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "planverse_notifications_total",
			Help: "Notifications produced and consumed",
		}, []string{"direction"}),
		PromotionServed: f.NewCounter(prometheus.CounterOpts{
			Name: "planverse_promotion_impressions_total",
			Help: "Promoted posts inserted into feed pages",
		}),
		FunctionCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "planverse_function_calls_total",
			Help: "Serverless function invocations, by function and result",
		}, []string{"function", "result"}),
	}
}

func (m *Metrics) MessageConfirmed(source string, since time.Time) {
	if m == nil {
		return
	}
	m.MessagesConfirmed.WithLabelValues(source).Inc()
	if !since.IsZero() {
		m.ConfirmLatency.Observe(time.Since(since).Seconds())
	}
}

func (m *Metrics) MessageUnconfirmed(policy string) {
	if m == nil {
		return
	}
	m.MessagesUnconfirmed.WithLabelValues(policy).Inc()
}

func (m *Metrics) SendFailed(stage string) {
	if m == nil {
		return
	}
	m.SendFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) Reorder(result string) {
	if m == nil {
		return
	}
	m.Reorders.WithLabelValues(result).Inc()
}

func (m *Metrics) Rollback(op string) {
	if m == nil {
		return
	}
	m.Rollbacks.WithLabelValues(op).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) RealtimeEvent(table, typ string) {
	if m == nil {
		return
	}
	m.RealtimeEvents.WithLabelValues(table, typ).Inc()
}

func (m *Metrics) InvalidPayload() {
	if m == nil {
		return
	}
	m.InvalidPayloads.Inc()
}

func (m *Metrics) Notification(direction string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(direction).Inc()
}

func (m *Metrics) PromotionImpression(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PromotionServed.Add(float64(n))
}

func (m *Metrics) FunctionCall(name, result string) {
	if m == nil {
		return
	}
	m.FunctionCalls.WithLabelValues(name, result).Inc()
}
