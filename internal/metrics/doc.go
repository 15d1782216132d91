// Package metrics exposes Prometheus instruments for the pipeline.
//
// Instruments are registered on a private registry so tests and multiple
// daemons in one process never collide on the default registerer. Stage and
// workflow counters are fed by a bus listener; cache, checkpoint, and usage
// counters are fed by hooks passed to those packages.
package metrics
