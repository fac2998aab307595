// Package template renders notification templates. Placeholders have the
// form {{path.to.value}} and are resolved against a context map built from
// the alert, the configured environment and the render timestamp.
//
// Rendering is total: an unknown path renders as the empty string and
// Render never returns an error.
package template
