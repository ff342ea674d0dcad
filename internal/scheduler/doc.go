// Package scheduler drives tickrun's poll loop.
//
// # Overview
//
// A single goroutine wakes on a fixed interval, truncates the current time
// to the minute in the configured timezone, and evaluates every loaded job's
// trigger against it. Due jobs are dispatched on their own goroutines so a
// slow or failing job never delays the evaluation of its siblings or the
// next tick.
//
// # At-most-once per matching minute
//
// Each job carries a last-fired marker (the minute it was last dispatched
// for). The marker is set before the dispatch starts, so repeated polls
// inside one minute, or a dispatch that outlives the poll interval, cannot
// trigger a second run for the same minute.
//
// # Catch-up after stalls
//
// If the process is suspended across one or more matching minutes, the next
// tick scans backwards from the current minute to the previous tick (bounded
// by a catch-up horizon) and fires at most once per job, for the most recent
// matching minute. Skipped-over minutes are not replayed.
//
// # Hot-reload
//
// Reload swaps the job list under the same lock the tick holds, merging
// last-fired markers for definitions that did not change, so a reload in the
// middle of a matching minute neither duplicates nor drops a fire.
package scheduler
