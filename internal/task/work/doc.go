// Package work implements the elastic worker pool.
//
// Jobs are appended to an unbounded FIFO queue and run by a set of workers
// that grows under backlog pressure (one worker per enqueue, up to
// MaxWorkers) and shrinks when workers stay idle past PopTimeout (down to
// MinWorkers). A failing or panicking job is logged and discarded; it never
// takes its worker or the pool down.
package work
