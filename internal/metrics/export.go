package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Set bundles the metrics of one invocation on a private registry, so that
// exports contain only deicer's series.
type Set struct {
	Registry     *prometheus.Registry
	Decommission *DecommissionMetrics
	VaultStore   *VaultStoreMetrics
}

// NewSet creates a Set on a fresh registry.
func NewSet() *Set {
	reg := prometheus.NewRegistry()
	return &Set{
		Registry:     reg,
		Decommission: NewDecommissionMetricsWithRegistry(reg),
		VaultStore:   NewVaultStoreMetricsWithRegistry(reg),
	}
}

// WriteTextfile writes the set in the text exposition format to path, for
// the node exporter's textfile collector. The write is atomic.
func (s *Set) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, s.Registry); err != nil {
		return fmt.Errorf("metrics: write textfile %s: %w", path, err)
	}
	return nil
}

// Push replaces the set's series in the Pushgateway group identified by job
// and grouping labels.
func (s *Set) Push(ctx context.Context, url, job string, grouping map[string]string) error {
	p := push.New(url, job).Gatherer(s.Registry)
	for k, v := range grouping {
		p = p.Grouping(k, v)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("metrics: push to %s: %w", url, err)
	}
	return nil
}
