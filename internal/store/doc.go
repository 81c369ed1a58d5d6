// Package store persists schedules and leads in a single SQLite file.
//
// It owns:
//   - Schedule rows including last/next-run bookkeeping
//   - Lead rows with a unique URL index (duplicate inserts surface
//     leads.ErrDuplicateURL)
//   - The distinct-domain set that seeds cross-batch deduplication
package store
