// Package storage provides the durable store behind the scheduler and the
// message index. Pick a driver via Config; the memory driver keeps everything
// in-process and is meant for tests and persistence-free runs.
package storage
