// Package tasksched provides a dependency-aware, priority-driven task
// scheduler with a worker pool and observable state machines.
//
// Callers construct Task values, optionally declaring other tasks as
// prerequisites, and hand them to a Processor. The Processor guarantees a
// task runs only after every prerequisite has succeeded, propagates
// failure along dependency edges, dispatches ready tasks to a pool of
// workers in priority order, and exposes real-time observability of task
// and aggregate group state via Monitoring and Barrier.
//
// Constructors
//   - New(ctx, opts...): functional-options constructor for Processor.
//
// Defaults
// Unless overridden, the following defaults apply to a newly created
// Processor:
//   - NumWorkers: 4
//   - DaemonWorkers: 1
//   - ReadyBookTimeout: 5 * time.Second (worker pop timeout)
//   - Metrics: metrics.NewNoopProvider()
//   - Logger: zerolog.Nop()
//
// Submission tasks
// A Task whose role is to compute and enqueue further tasks (a
// "submission task", see NewSubmissionTask) is routed to a dedicated book
// and worker, separate from the main pool. This prevents a deadlock that
// would otherwise occur if a user task tried to synchronously enqueue and
// wait for further work on the same pool it runs on; see Processor.Submit
// and the ErrUnsafeSubmission error.
//
// Observability
// Tasks expose state-change and prerequisite-change listeners. Monitoring
// aggregates a set of tasks into per-state counts; Barrier adds blocking
// waits on aggregate predicates (all submitted, all determined). There is
// no wire protocol, persisted state, or cross-process visibility: this is
// an in-process library.
package tasksched
