// Package scheduler is the in-memory registry of recurring timers.
//
// Each registration is keyed by schedule.JobID and owns one robfig/cron
// entry while armed. Pausing removes the cron entry but keeps the
// registration, so a later Resume re-arms it from the moment of resume.
// The scheduler never reads or writes durable state.
package scheduler
