// Package data defines the domain types shared across the system:
// the topology mapping of hosts and sandbox proxies, mitigation
// events, quarantine records, and telemetry samples.
package data
