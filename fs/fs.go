// Package appfs embeds the SQL migrations and the email/view templates into the binaries.
package appfs

import "embed"

//go:embed migrations templates
var FS embed.FS
