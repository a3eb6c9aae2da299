/*
Package session implements the session repository.

A Repository creates, loads, saves and deletes sessions kept in a
ports.SessionStore. Sessions track their changes since they were loaded, and
Save writes only those changes: atomically on the server through the store's
Update when it can, otherwise by loading, patching and replacing the record
while holding a per-session lock, both in-process and across replicas.

Started repositories forward the store's lifecycle events to an
EventPublisher and run the expiration sweeper.
*/
package session
