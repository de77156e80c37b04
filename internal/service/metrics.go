package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upload outcomes reported in the result label.
const (
	resultOK       = "ok"
	resultRejected = "rejected"
	resultError    = "error"
)

// Metrics holds the domain metrics of the database service.
type Metrics struct {
	uploads   *prometheus.CounterVec
	duration  prometheus.Histogram
	extracted prometheus.Counter
}

// NewMetrics registers the service metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "estorage_uploads_total",
			Help: "Database uploads by result (ok, rejected, error).",
		}, []string{"result"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "estorage_upload_duration_seconds",
			Help:    "Time spent storing and extracting an uploaded bundle.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		extracted: f.NewCounter(prometheus.CounterOpts{
			Name: "estorage_extracted_files_total",
			Help: "Files written by successful uploads.",
		}),
	}
}
