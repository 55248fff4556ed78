// Package analytics 以 Prometheus 计数器记录注册漏斗事件
package analytics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Event string

const (
	LandingPageViewed Event = "landing_page_viewed"
	SignupModalOpened Event = "signup_modal_opened"
	PlanSelected      Event = "plan_selected"
	SignupCompleted   Event = "signup_completed"
	CheckoutStarted   Event = "checkout_started"
	CheckoutCompleted Event = "checkout_completed"
)

// Tracker 由 HTTP 层调用，测试中可替换为空实现
type Tracker interface {
	Track(event Event, plan string)
	Webhook(eventType, outcome string)
}

type Metrics struct {
	registry *prometheus.Registry
	funnel   *prometheus.CounterVec
	webhooks *prometheus.CounterVec
	once     sync.Once
}

var _ Tracker = (*Metrics)(nil)

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		funnel: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "babygpt_funnel_events_total",
				Help: "Signup funnel events by event name and plan interval.",
			},
			[]string{"event", "plan"},
		),
		webhooks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "babygpt_webhook_events_total",
				Help: "Stripe webhook deliveries by event type and outcome.",
			},
			[]string{"type", "outcome"},
		),
	}
	m.registry.MustRegister(m.funnel, m.webhooks)
	return m
}

func (m *Metrics) Track(event Event, plan string) {
	m.funnel.WithLabelValues(string(event), plan).Inc()
}

func (m *Metrics) Webhook(eventType, outcome string) {
	m.webhooks.WithLabelValues(eventType, outcome).Inc()
}

// Handler 暴露指标，首次调用时注册 Go 运行时采集器
func (m *Metrics) Handler() http.Handler {
	m.once.Do(func() {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Discard 丢弃所有事件
type Discard struct{}

func (Discard) Track(Event, string)    {}
func (Discard) Webhook(string, string) {}
