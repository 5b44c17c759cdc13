// Package logsource fetches high-severity error events from the log
// warehouse.
//
// An Adapter pairs a Warehouse with a CursorStore. Each FetchRecentEvents
// call asks for events strictly newer than the cursor, newest first and
// capped at the batch size, then moves the cursor to the newest timestamp
// it saw. A failed query leaves the cursor where it was, so the same
// window is retried on the next poll. Advancing happens before any event
// is processed: delivery is at most once.
package logsource
