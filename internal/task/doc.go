// Package task holds the domain types shared by the scheduling subsystem:
// one-shot events, recurring jobs, audit entries, the error taxonomy and the
// delivery boundary.
package task
