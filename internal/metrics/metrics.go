// Package metrics exposes runtime counters via expvar.
package metrics

import "expvar"

var (
	OutboxAppended       = expvar.NewInt("outbox_appended_total")
	RelayPublished       = expvar.NewInt("relay_published_total")
	RelayPublishFailures = expvar.NewInt("relay_publish_failures")
	RelayRetriesDeferred = expvar.NewInt("relay_retries_deferred")
	OutboxFailed         = expvar.NewInt("outbox_failed_total")
	BreakerOpens         = expvar.NewInt("breaker_opens")
	ChainExhausted       = expvar.NewInt("chain_exhausted")
	InstantCompleted     = expvar.NewInt("analysis_instant_completed")
	InstantDegraded      = expvar.NewInt("analysis_instant_degraded")
	DeepCompleted        = expvar.NewInt("analysis_deep_completed")
	DeepFailed           = expvar.NewInt("analysis_deep_failed")
	DuplicatesIgnored    = expvar.NewInt("duplicate_deliveries_ignored")
	AlertsDispatched     = expvar.NewInt("alerts_dispatched")
	AlertsFailed         = expvar.NewInt("alerts_failed")
	ProfilesStored       = expvar.NewInt("profiles_stored")
)
