// Package credstore persists remember-me login state between runs.
//
// Values are opaque byte strings keyed by "<instance>/login". The client
// writes the login reply body on a successful remembered login, deletes it
// on logout and reads it back on connect.
//
// Two stores are provided: Memory for tests and short-lived processes, and
// SQLite for durable storage in a single database file.
package credstore
