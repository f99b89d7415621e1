// Package ledger records completed work units in an append-only text log and
// rebuilds the completed set by replaying it.
//
// Each line ends in a tab-separated triple:
//
//	2024-05-01T10:00:00Z id: 44071	range: 0.1-0.11	Success
//	2024-05-01T10:00:03Z id: 553	range: full	Success
//	2024-05-01T10:00:09Z id: 553	range: full	Suspect
//
// Only Success lines count. A full Success covers every sub-range of the
// same target. Lines that do not parse, such as a line torn by a crash, are
// skipped on replay, and Open terminates a torn tail so the next append
// starts cleanly.
package ledger
