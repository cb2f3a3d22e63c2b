// Package syncer composes one full transfer cycle: scan the monitored folders,
// upload new files, poll the service, download converted outputs, and persist
// the history.
//
// A Syncer owns the in-memory history for the life of the process. It is
// loaded once by Open and saved after every state-changing event, so a crash
// between files loses at most the file in flight.
package syncer
