// Package diag exposes debug data of a running cycle host: a JSON snapshot of
// every registered component, optional net/http/pprof endpoints and a
// periodic snapshot log line.
package diag
