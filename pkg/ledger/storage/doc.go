// Package storage provides persistence backends for the cost ledger.
//
// # Overview
//
// The ledger is persisted as a single logical document holding every global
// bucket and every per-user bucket. Backends implement whole-document load
// and save:
//
//   - Memory: in-process copy, no durability (tests, dry runs)
//   - File: one JSON document, written atomically via temp file + rename
//   - SQLite: one row per bucket, the whole document upserted in a single
//     transaction (modernc.org/sqlite by default, mattn/go-sqlite3 on request)
//
// # Usage
//
//	backend, err := storage.Open(storage.Config{
//	    Backend: "sqlite",
//	    Path:    "data/ledger.db",
//	})
//	if err != nil {
//	    return err
//	}
//	defer backend.Close()
//
//	doc, err := backend.Load(ctx)
//
// # Document Format
//
// The JSON form is stable and forward compatible: fields missing from an
// older document decode as zero values.
//
//	{
//	  "global_buckets": {"stable:openai": {...}},
//	  "user_buckets":   {"42": {"stable:openai": {...}}}
//	}
//
// # Thread Safety
//
// All backends are safe for concurrent use. Callers that need ordering
// between saves (the ledger does) must serialize Save calls themselves.
package storage
