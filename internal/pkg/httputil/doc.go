// Package httputil writes the JSON bodies of the import API.
//
// Handlers answer through these helpers so success payloads and
// {"error": "..."} bodies look the same on every route, and internal
// errors are logged rather than returned to the caller.
package httputil
