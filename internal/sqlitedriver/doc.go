// Package sqlitedriver registers a database/sql driver under the name
// "sqlite3", so the rest of the module never imports a driver directly.
// When built with cgo it registers go-sqlcipher, which understands
// "PRAGMA key" for encryption at rest; otherwise it falls back to the
// pure-Go modernc.org/sqlite, which does not support encryption.
// EncryptionSupported reports which variant is active.
//
// Import this package for its side effects only:
//
//	import _ "github.com/guardloop/guardloop/internal/sqlitedriver"
package sqlitedriver
