package metrics

import (
	"avante-billing/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(tierUpgradesTotal, tierUpgradeFailuresTotal)
}

var (
	tierUpgradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_tier_upgrades_total",
			Help: "Applied subscription tier upgrades by target tier.",
		},
		[]string{"tier"},
	)

	tierUpgradeFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscription_tier_upgrade_failures_total",
			Help: "Tier upgrades that failed after the payment was approved.",
		},
	)
)

func IncTierUpgrade(tier model.Tier) {
	tierUpgradesTotal.WithLabelValues(string(tier)).Inc()
}

func IncTierUpgradeFailure() { tierUpgradeFailuresTotal.Inc() }
