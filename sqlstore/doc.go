// Package sqlstore implements every authcore store on database/sql.
//
// The same queries run on Postgres (lib/pq) and SQLite (modernc.org/sqlite):
// placeholders are $N in first-appearance order and timestamps are stored as
// unix milliseconds. Conditional UPDATE and DELETE statements carry the
// single-use and rotation guarantees; no query reads then writes.
package sqlstore
