// Package admin serves the optional HTTP admin surface: health, a JSON
// snapshot of the pool and the scheduler, Prometheus metrics, named-job
// enqueue, schedule cancellation and, when enabled, pprof.
package admin
