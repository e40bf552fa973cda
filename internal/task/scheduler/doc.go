// Package scheduler owns the live timer table.
//
// Every armed job is keyed by a job key and holds exactly one pending timer.
// The scheduler only decides *when* something runs; execution is handed to
// the task engine so a slow action never delays other timers.
package scheduler
