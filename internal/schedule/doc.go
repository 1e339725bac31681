// Package schedule defines the persisted schedule record, the identity that
// joins a record to its live timer, and the error taxonomy shared by the
// store, the scheduler and the command dispatcher.
package schedule
