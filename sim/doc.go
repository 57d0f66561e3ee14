// Package sim provides the core stochastic simulation engine for population
// protocols: n anonymous agents, each holding one of finitely many states,
// repeatedly interact in uniformly random pairs under a transition rule.
//
// # Reading Guide
//
// Start with these three files to understand the simulation kernel:
//   - rule.go: how transition rules are expressed (maps, distributions, functions)
//   - urn.go: the partial-sum tree that holds the configuration and answers
//     weighted samples with and without replacement
//   - simulation.go: the driver that picks an engine, advances parallel time,
//     and records history snapshots
//
// # Engines
//
// Three engines share the urn and the compiled transition table:
//   - multibatch.go: the batched simulator after Berenbrink, Hammer, Kaaser,
//     Meyer, Penschuck and Tran. It applies Θ(√n) interactions per block by
//     drawing all participants at once and replaying the rare repeat
//     participants individually.
//   - gillespie.go: event-driven fallback for sparse regimes where almost
//     every sampled pair is null; it samples the gap to the next
//     state-changing interaction directly.
//   - sequential.go: one interaction at a time; the reference the batched
//     engine is validated against.
//
// The driver switches between the batched and Gillespie engines with an
// EWMA estimate of the null-interaction fraction (see Options).
//
// # Determinism
//
// Every Simulation owns a single PCG random stream (rng.go). For a fixed
// seed, rule, initial configuration and options, the recorded history is
// bit-for-bit reproducible. Independent simulations may run concurrently;
// one Simulation must not be shared across goroutines.
package sim
