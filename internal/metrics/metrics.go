package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	redemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claim_redemptions_total",
			Help: "Redemption attempts by result (signed/unknown_code/expired/invalid/error).",
		},
		[]string{"result"},
	)

	captchaTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captcha_verifications_total",
			Help: "CAPTCHA verifications by result (passed/failed/error).",
		},
		[]string{"result"},
	)

	storeWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_writes_total",
			Help: "Full-document writes per store (ok/failed).",
		},
		[]string{"store", "result"},
	)

	adminCommandTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_command_total",
			Help: "Admin API commands by outcome.",
		},
		[]string{"command", "status"},
	)
)

// MustRegister registers collectors with the default registry (idempotent).
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(
			redemptionsTotal,
			captchaTotal,
			storeWritesTotal,
			adminCommandTotal,
		)
	})
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func IncRedemption(result string) {
	redemptionsTotal.WithLabelValues(norm(result)).Inc()
}

func IncCaptcha(result string) {
	captchaTotal.WithLabelValues(norm(result)).Inc()
}

func ObserveStoreWrite(store string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	storeWritesTotal.WithLabelValues(norm(store), result).Inc()
}

func IncAdminCommand(command, status string) {
	adminCommandTotal.WithLabelValues(norm(command), norm(status)).Inc()
}
