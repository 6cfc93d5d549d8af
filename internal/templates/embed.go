// Package templates renders review request text from embedded templates
// with per-project and per-user overrides.
package templates

import "embed"

//go:embed review/*.md
var embeddedFS embed.FS
