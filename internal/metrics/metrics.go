package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/do"
)

const namespace = "sdstudio"

// Metrics methods are safe to call on a nil receiver so collaborators can run without them.
type Metrics struct {
	generations *prometheus.CounterVec
	duration    prometheus.Histogram
	loads       *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Generate requests by outcome.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Time spent in pipeline inference.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 180, 300, 600},
		}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_loads_total",
			Help:      "Model construction attempts by outcome.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.generations, m.duration, m.loads)
	return m
}

func NewMetrics(i *do.Injector) (*Metrics, error) {
	return New(do.MustInvoke[prometheus.Registerer](i)), nil
}

func (m *Metrics) Generation(result string) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(result).Inc()
}

func (m *Metrics) Inference(d time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(d.Seconds())
}

func (m *Metrics) Load(err error) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
