// Package stores persists provisioning run history and the last applied
// state of every resource. The SQLite implementation is the default backend
// for gantry apply; schema management runs through embedded golang-migrate
// migrations.
package stores
