// Package storage is the durable Schedule Store.
//
// It is the only writer of schedule state. Records are soft-deleted
// (status=Deleted) and every read filters them out.
package storage
