//go:build !cgo_sqlite

package main

import (
	"database/sql"
	"net/url"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

// pragmaParams are the go-sqlite3 style DSN parameters that modernc.org/sqlite
// only understands as _pragma=name(value).
var pragmaParams = map[string]string{
	"_journal_mode": "journal_mode",
	"_busy_timeout": "busy_timeout",
	"_foreign_keys": "foreign_keys",
	"_synchronous":  "synchronous",
}

func initDB(dataSource string) (*sql.DB, error) {
	return sql.Open("sqlite", nativeDSN(dataSource))
}

// nativeDSN rewrites the pragma parameters of dataSource so the same
// database_path works with both drivers. Other parameters are kept.
func nativeDSN(dataSource string) string {
	path, rawQuery, ok := strings.Cut(dataSource, "?")
	if !ok {
		return dataSource
	}
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return dataSource
	}

	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := url.Values{}
	for _, key := range keys {
		pragma, isPragma := pragmaParams[key]
		for _, value := range query[key] {
			if isPragma {
				out.Add("_pragma", pragma+"("+value+")")
			} else {
				out.Add(key, value)
			}
		}
	}
	return path + "?" + out.Encode()
}
