// Package dispense materializes medication prescriptions into concrete
// scheduled dispensing instances.
//
// A prescription describes a recurrence ("08:00 and 20:00 every other day
// from Jan 10"); the materializer expands it for a target date into
// (prescription, date, slot) instances that the dispensing workflow then
// tracks through preparation, verification and dispensing stages.
//
// Generation is idempotent on the (prescription, date, slot) identity key and
// prunes instances that fall outside the prescription's current validity
// window, so editing a window retroactively keeps the instance set
// consistent.
package dispense
