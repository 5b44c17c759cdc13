// Package extract turns a raw error event into structured context for the
// diagnosis prompt.
//
// Extract is a pure function of the event message: it recognizes common
// JavaScript/Node crash formats, pulls out the stack trace, plugin names and
// an out-of-memory flag, and keeps the leading lines of the message.
//
// GatherSnippets resolves source paths mentioned in the trace against the
// working copy and returns at most MaxSnippets file bodies.
package extract
