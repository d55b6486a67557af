// Package sqlite implements the coursetree storage backend on an embedded
// SQLite database (modernc.org/sqlite, no cgo).
//
// Each collection is one table holding the record as a JSON document next to
// one column per declared index:
//
//	CREATE TABLE "courses" (
//	    id        INTEGER PRIMARY KEY AUTOINCREMENT,
//	    doc       TEXT NOT NULL,
//	    "userId"  INTEGER,
//	    "category" TEXT
//	);
//
// AUTOINCREMENT guarantees that ids are never reused, even after the highest
// id has been deleted. The pool is limited to one connection, so SQLite
// serializes every transaction and ":memory:" databases behave like files.
package sqlite
