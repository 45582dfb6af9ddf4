// Package sched is the scheduled-delivery engine: a durable registry of
// one-shot and recurring tasks, a poll loop that fires due tasks through an
// injected delivery callback, and a pure trigger resolver that computes
// next-fire times.
package sched
