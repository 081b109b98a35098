package upload

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Credential kinds recorded on CredentialsIssued.
const (
	KindWrite = "write"
	KindRead  = "read"
)

var (
	// CredentialsIssued counts presigned URLs handed out. The resolver records
	// reads on it as well.
	CredentialsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "photojournal_credentials_issued_total",
		Help: "Presigned credentials issued, by kind.",
	}, []string{"kind"})

	objectsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "photojournal_objects_stored_total",
		Help: "Objects written through the server-mediated upload path.",
	})

	objectsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "photojournal_objects_deleted_total",
		Help: "Objects removed on caller request.",
	})
)
