//go:build cgo

package sqlitedriver

import (
	_ "github.com/mutecomm/go-sqlcipher/v4" // registers "sqlite3" driver, with encryption support
)

// EncryptionSupported reports whether the registered "sqlite3" driver
// understands "PRAGMA key" (SQLCipher). True on the cgo build.
const EncryptionSupported = true
