// Package metrics holds the Prometheus instruments of the storage service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Download outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeOrphan   = "orphan"
	OutcomeError    = "error"
)

// Metrics holds all counters of the storage service.
type Metrics struct {
	UploadsTotal     *prometheus.CounterVec // mycloud_uploads_total{status}
	UploadBytes      prometheus.Counter     // mycloud_upload_bytes_total
	DownloadsTotal   *prometheus.CounterVec // mycloud_downloads_total{outcome}
	DeletesTotal     prometheus.Counter     // mycloud_deletes_total
	OrphanedBlobs    prometheus.Counter     // mycloud_orphaned_blobs_total
	AccountDeletions prometheus.Counter     // mycloud_account_deletions_total
}

// New registers the service metrics on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		UploadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mycloud_uploads_total",
			Help: "Upload attempts by status",
		}, []string{"status"}),

		UploadBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "mycloud_upload_bytes_total",
			Help: "Bytes accepted by successful uploads",
		}),

		DownloadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mycloud_downloads_total",
			Help: "Download requests by outcome",
		}, []string{"outcome"}),

		DeletesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "mycloud_deletes_total",
			Help: "Objects deleted by their owner or an admin",
		}),

		OrphanedBlobs: f.NewCounter(prometheus.CounterOpts{
			Name: "mycloud_orphaned_blobs_total",
			Help: "Index rows found without a blob, or blobs left behind after a failed delete",
		}),

		AccountDeletions: f.NewCounter(prometheus.CounterOpts{
			Name: "mycloud_account_deletions_total",
			Help: "Accounts removed by admins",
		}),
	}
}

// ObserveUpload records an upload attempt.
func (m *Metrics) ObserveUpload(size int64, err error) {
	if err != nil {
		m.UploadsTotal.WithLabelValues("error").Inc()
		return
	}
	m.UploadsTotal.WithLabelValues("ok").Inc()
	m.UploadBytes.Add(float64(size))
}

// ObserveDownload records a download by outcome.
func (m *Metrics) ObserveDownload(outcome string) {
	m.DownloadsTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeOrphan {
		m.OrphanedBlobs.Inc()
	}
}
