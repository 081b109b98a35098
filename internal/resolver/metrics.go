package resolver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	presignFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "photojournal_presign_fallbacks_total",
		Help: "Read URLs served as public URLs because signing failed.",
	})
)
