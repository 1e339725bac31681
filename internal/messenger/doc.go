// Package messenger keeps the schedule store and the live scheduler in step.
//
// Dispatcher maps one parsed chat command to the store and scheduler
// mutations it implies; Reconciler rebuilds the scheduler from the store
// once at startup. The store always goes first: it is the only durable
// state, and the scheduler only mirrors it.
package messenger
