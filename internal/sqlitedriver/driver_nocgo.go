//go:build !cgo

package sqlitedriver

import (
	"database/sql"

	"modernc.org/sqlite"
)

func init() {
	sql.Register("sqlite3", &sqlite.Driver{})
}

// EncryptionSupported reports whether the registered "sqlite3" driver
// understands "PRAGMA key" (SQLCipher). False on the pure-Go build.
const EncryptionSupported = false
