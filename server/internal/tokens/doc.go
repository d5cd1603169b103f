// Package tokens holds the set of bearer tokens accepted by imagedrop-server.
//
// The set is read from a line-delimited file: one token per line, blank lines
// and lines starting with "#" are ignored.
//
// Store keeps the current set behind an atomic pointer. Load and Reload parse
// the whole file into a new immutable Set and swap it in, so a concurrent
// Contains call sees either the old set or the new one, never a mix.
//
// When the file is missing or unreadable the store falls back to an empty set
// and returns an error wrapping ErrSourceUnavailable. Every token is then
// rejected until a later reload succeeds.
//
// Watch(ctx, onReload) uses fsnotify to reload the file whenever it changes on
// disk, in addition to the explicit admin reload endpoint.
package tokens
