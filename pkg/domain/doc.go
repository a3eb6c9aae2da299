/*
Package domain contains the core session model of gridsession.

It defines the record kept in the distributed store, the delta applied to it by
partial saves, and the events emitted over a session's lifecycle. This package is
kept free of I/O; stores and transports live in the adapters.

# Key Entities

  - Record: the stored session (ID, timestamps, inactivity interval, principal, attributes).
  - AttributeValue: serialized attribute bytes with a lazily decoded cached object.
  - Delta: the set of changes a save sends to the store instead of the whole record.
  - SessionEvent: created, deleted and expired notifications.
*/
package domain
