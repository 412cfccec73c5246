// Package openapidoc serves the gateway's checked-in OpenAPI document —
// SPEC_FULL.md §2 item 19. The document generator itself stays out of
// scope per spec.md §1 ("the OpenAPI document generator" is an external
// collaborator); this package only embeds and serves the static result.
package openapidoc

import _ "embed"

//go:embed openapi.json
var spec []byte

// Spec returns the embedded OpenAPI 3.0 document bytes.
func Spec() []byte { return spec }
