// Package metrics Prometheus метрики драйвера.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config конфигурация метрик
type Config struct {
	// Enabled включает/выключает сбор метрик
	Enabled bool
	// Namespace префикс метрик
	Namespace string
	// Registerer куда регистрировать метрики; nil означает новый реестр
	Registerer prometheus.Registerer
}

// DefaultConfig конфигурация по умолчанию
func DefaultConfig() Config {
	return Config{Enabled: true, Namespace: "capi"}
}

// Collector счетчики монитора и действий вызова.
// Нулевой или выключенный Collector безопасен для вызова.
type Collector struct {
	enabled bool

	messages     *prometheus.CounterVec
	untargeted   *prometheus.CounterVec
	infoCodes    *prometheus.CounterVec
	calls        *prometheus.CounterVec
	waits        *prometheus.CounterVec
	activeB3     prometheus.Gauge
	freeChannels *prometheus.GaugeVec

	// счетчики для интроспекции без обращения к Prometheus
	totalMessages atomic.Int64
	totalCalls    atomic.Int64
}

// New создает сборщик
func New(cfg Config) *Collector {
	if !cfg.Enabled {
		return &Collector{}
	}
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	ns := cfg.Namespace

	return &Collector{
		enabled: true,
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "messages_total",
			Help:      "CAPI messages handled by the monitor, by kind",
		}, []string{"kind"}),
		untargeted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "untargeted_messages_total",
			Help:      "Messages that resolved to no interface",
		}, []string{"kind"}),
		infoCodes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "info_codes_total",
			Help:      "Non-zero info codes in confirmations, by class",
		}, []string{"class"}),
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "calls_total",
			Help:      "Calls started, by direction",
		}, []string{"direction"}),
		waits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "waits_total",
			Help:      "Synchronous waits, by event and outcome",
		}, []string{"event", "result"}),
		activeB3: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "b3_active",
			Help:      "Active B3 connections",
		}),
		freeChannels: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "free_bchannels",
			Help:      "Free B channels per controller",
		}, []string{"controller"}),
	}
}

func (c *Collector) on() bool { return c != nil && c.enabled }

// Message обработанное сообщение
func (c *Collector) Message(kind string) {
	if c == nil {
		return
	}
	c.totalMessages.Add(1)
	if c.on() {
		c.messages.WithLabelValues(kind).Inc()
	}
}

// Untargeted сообщение без интерфейса
func (c *Collector) Untargeted(kind string) {
	if c.on() {
		c.untargeted.WithLabelValues(kind).Inc()
	}
}

// InfoCode ненулевой info: class = benign|error|fatal
func (c *Collector) InfoCode(class string) {
	if c.on() {
		c.infoCodes.WithLabelValues(class).Inc()
	}
}

// Call новый вызов: direction = in|out
func (c *Collector) Call(direction string) {
	if c == nil {
		return
	}
	c.totalCalls.Add(1)
	if c.on() {
		c.calls.WithLabelValues(direction).Inc()
	}
}

// Wait исход синхронного ожидания
func (c *Collector) Wait(event, result string) {
	if c.on() {
		c.waits.WithLabelValues(event, result).Inc()
	}
}

// B3Up поднят B3
func (c *Collector) B3Up() {
	if c.on() {
		c.activeB3.Inc()
	}
}

// B3Down B3 разобран
func (c *Collector) B3Down() {
	if c.on() {
		c.activeB3.Dec()
	}
}

// FreeChannels текущее число свободных B-каналов контроллера
func (c *Collector) FreeChannels(controller string, n int) {
	if c.on() {
		c.freeChannels.WithLabelValues(controller).Set(float64(n))
	}
}

// Totals число сообщений и вызовов с момента старта
func (c *Collector) Totals() (messages, calls int64) {
	if c == nil {
		return 0, 0
	}
	return c.totalMessages.Load(), c.totalCalls.Load()
}
