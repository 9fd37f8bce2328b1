// Package migrations carries the schema as embedded SQL so the binaries
// never depend on a migrations directory being present at runtime.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
