// Package scheduler is the cron execution engine.
//
// An Engine owns one scheduling loop per registered JobConfiguration. Each
// loop asks the job's schedule for the next trigger instant relative to the
// clock, waits for that instant or for cancellation, and hands the job to
// the dispatcher. The dispatcher runs every execution in its own goroutine
// and records its outcome on an ExecutionHandle; it never retries and never
// reinterprets a job's error.
//
// Stop cancels the shared context, waits until every loop and every
// execution it started has returned, then calls each job's Release hook
// once. A job that ignores its context delays Stop indefinitely.
//
// GocronScheduler offers the same contract on top of gocron.
package scheduler
