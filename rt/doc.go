// Package rt provides best-effort realtime scheduling for latency-sensitive
// threads. Failure to elevate is expected for unprivileged processes and
// should be logged, not treated as fatal.
package rt
