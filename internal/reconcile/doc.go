// Package reconcile contains the periodic jobs that keep automatic
// transitions moving without a message broker: schedules live in the
// database as (deadline, flag) pairs, and these jobs assign, fire, audit,
// repair and retire them.
//
// Every job is idempotent and safe under at-least-once execution. Two
// runners firing the same job concurrently converge on the same state
// because all mutations go through version-guarded compare-and-swaps.
package reconcile
