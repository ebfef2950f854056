package main

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/trustweave/dag-hub/pkg/config"
)

// prometheusRegistryOrNil returns the default registerer when metrics
// are enabled, or nil (Hub then builds unregistered collectors) when
// cfg.MetricsPort is 0.
func prometheusRegistryOrNil(cfg *config.Config) prometheus.Registerer {
	if cfg.MetricsPort == 0 {
		return nil
	}
	return prometheus.DefaultRegisterer
}
