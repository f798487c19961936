// Package recurrence models how often a recurring care obligation fires.
//
// The facility records two vocabularies for the same concept: task rules
// (hourly/daily/weekly/monthly/yearly) and prescription frequencies
// (daily/every_x_days/weekly_days/odd_even_days/every_x_months). Both are
// normalized into one internal Rule so the evaluator exists exactly once;
// TaskRule and PrescriptionRule are the boundary adapters.
//
// Matches answers "is this calendar date an occurrence", Next projects the
// following occurrence date, and ApplyTimeOfDay resolves the wall-clock time
// an occurrence is due at. All three are pure and never fail: rules that
// cannot be interpreted (unknown unit, weekly with no weekdays) degrade to
// "never matches" so legacy rows cannot crash live scheduling.
package recurrence
