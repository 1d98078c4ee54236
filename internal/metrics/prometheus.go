package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics
var (
	certificatesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certificates_issued_total",
			Help: "Certificates issued, by mint status at issuance",
		},
		[]string{"mint_status"},
	)
	certificateDuplicates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "certificate_duplicates_total",
			Help: "Submissions rejected because the session already has a certificate",
		},
	)
	certificateFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certificate_failures_total",
			Help: "Issuance failures by pipeline stage",
		},
		[]string{"stage"},
	)
	mintDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "certificate_mint_duration_seconds",
			Help:    "Time spent minting a certificate NFT, allowance and mint included",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"result"},
	)
	pendingMints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "certificate_pending_mints",
			Help: "Certificates waiting for the async minter",
		},
	)
	walletDeployments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_deployments_total",
			Help: "Sponsored account deployments by result",
		},
		[]string{"result"},
	)
)

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// CertificateIssued counts a persisted certificate.
func CertificateIssued(mintStatus string) {
	certificatesIssued.WithLabelValues(mintStatus).Inc()
}

// CertificateDuplicate counts a rejected resubmission.
func CertificateDuplicate() {
	certificateDuplicates.Inc()
}

// StageFailed counts an issuance that failed at stage.
func StageFailed(stage string) {
	certificateFailures.WithLabelValues(stage).Inc()
}

// ObserveMint records how long a mint took.
func ObserveMint(started time.Time, err error) {
	mintDuration.WithLabelValues(result(err)).Observe(time.Since(started).Seconds())
}

// WalletDeployed counts a deployment attempt.
func WalletDeployed(err error) {
	walletDeployments.WithLabelValues(result(err)).Inc()
}

// SetPendingMints sets the pending-mint gauge.
func SetPendingMints(n int) {
	pendingMints.Set(float64(n))
}

// Handler serves the Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
