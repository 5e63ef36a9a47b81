// Package study implements the session orchestration engine of the reader
// study: crossover resolution, write-once case orders, the session state
// machine with its atomic submit-and-advance protocol, the AI access gate and
// the read-side progress views.
//
// All coordination between concurrent requests goes through the datastore.
// The engine holds no per-session state in memory, so any number of
// instances may serve the same database.
package study
