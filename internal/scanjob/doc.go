package scanjob

// Package scanjob runs document scans in the background, one at a time.
//
// Overview
// A Manager owns the single process wide job. Start admits a job only when
// nothing runs, marks it running and spawns the pipeline goroutine. The HTTP
// layer never waits for it, it polls Status instead.
//
// Pipeline:
//
//   checkpoint -> SelectDevice -> Sources -> checkpoint -> Transfer
//       -> checkpoint -> save raw BMP -> Encode JPEG -> Success{file}
//
// Cancellation is advisory. Cancel cancels the job context and the pipeline
// looks at it at the three checkpoints only. The transfer and the encoding
// run on a context which ignores Cancel and the job timeout, a Close still
// interrupts them.
//
// Invariants:
//   - At most one job runs at a time, concurrent Start calls admit exactly one.
//   - Every job ends with exactly one terminal ScanResult, a panic included.
//   - The running state is released by the job goroutine as its last step.
//   - Status and Cancel never wait for device I/O.
//   - The result of a job is cleared when the next job is admitted.
