// Package migrations holds the embedded SQL schema for the identity and
// audit stores.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
