package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transfer Metrics
//
// These metrics track chunked uploads and downloads through the transfer
// coordinator.

var (
	// ActiveTransfers tracks sessions currently in the transfer state.
	// Labels: direction (upload, download)
	ActiveTransfers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cloudvault_active_transfers",
			Help: "Sessions currently in a transfer",
		},
		[]string{"direction"},
	)

	// TransferDuration tracks time from transfer init to completion.
	// Labels: direction, outcome (complete, cancelled, failed)
	TransferDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cloudvault_transfer_duration_seconds",
			Help:    "Transfer duration from init to completion",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~7 min
		},
		[]string{"direction", "outcome"},
	)

	// BytesTransferredTotal counts payload bytes moved.
	// Labels: direction
	BytesTransferredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudvault_bytes_transferred_total",
			Help: "Chunk payload bytes transferred",
		},
		[]string{"direction"},
	)

	// ChunkRejectionsTotal counts rejected chunk requests.
	// Labels: reason (out_of_order, file_mismatch, empty_payload, storage_error)
	ChunkRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudvault_chunk_rejections_total",
			Help: "Rejected chunk requests by reason",
		},
		[]string{"reason"},
	)
)

// RecordTransfer records a finished transfer.
func RecordTransfer(direction, outcome string, seconds float64) {
	TransferDuration.WithLabelValues(direction, outcome).Observe(seconds)
}

// RecordChunkRejection records a rejected chunk request.
func RecordChunkRejection(reason string) {
	ChunkRejectionsTotal.WithLabelValues(reason).Inc()
}
