// Package metrics keeps the imagedrop-server counters and serves them in the
// Prometheus exposition format.
//
// Exposed families:
//
//	imagedrop_auth_attempts_total{scope,result}   counter
//	imagedrop_uploads_total{code}                 counter
//	imagedrop_upload_bytes_total                  counter
//	imagedrop_token_reloads_total{trigger,result} counter
//	imagedrop_tokens_loaded                       gauge
//	imagedrop_event_clients                       gauge
//
// Registry wraps a private prometheus.Registry, so nothing from the default
// process collectors leaks into the output.
//
// Gauges are read through callbacks at scrape time so they never go stale.
// The response format is negotiated from the Accept header (text or
// delimited protobuf).
package metrics
