// Package schedule models recurring care obligations and derives their live
// urgency status.
//
// A Task's schedule position is an explicit Progress variant (not started /
// awaiting an occurrence / satisfied and awaiting advance) instead of the two
// nullable timestamps the records UI stores, which keeps the null-handling in
// exactly one place.
//
// Classify is a pure function of (task, now) plus a caller-supplied
// completion predicate; it performs no I/O.
package schedule
