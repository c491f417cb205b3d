// Package metrics provides Prometheus metrics for decommission runs.
//
// deicer is a batch tool, so metrics are not scraped. At the end of a run the
// Set is exported once, to a node-exporter textfile, to a Pushgateway, or both:
//
//	set := metrics.NewSet()
//	store := vaultstore.NewInstrumentedStore(glacierStore, set.VaultStore)
//	orch := decommission.NewOrchestrator(store, records, decommission.Options{Metrics: set.Decommission})
//	...
//	_ = set.WriteTextfile("/var/lib/node_exporter/textfile/deicer.prom")
//	_ = set.Push(ctx, "http://pushgateway:9091", "deicer", map[string]string{"campaign": "prod"})
package metrics
