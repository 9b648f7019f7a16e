// Command curator runs the collection daemon and manages collections and
// subscriptions from the command line.
//
// "curator serve" starts the HTTP API and release-check loop. The other
// commands open the local database directly, so they work whether or not the
// daemon is running; SQLite WAL mode lets both share the file.
package main
