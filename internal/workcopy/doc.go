// Package workcopy manages the single local clone of the target repository.
//
// The Manager keeps the clone on the default branch between events. Patch
// application happens on a short-lived branch that is pushed to origin and
// then discarded locally with Reset. All branch operations hold one mutex,
// so at most one patch is in flight against the tree.
package workcopy
