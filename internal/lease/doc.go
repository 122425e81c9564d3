// Package lease implements a message transport over a queue table that
// never holds a transaction open while a message is handled.
//
// Receive atomically leases one row for a bounded interval and binds the
// row to the caller's unit of work: committing the unit deletes the row,
// aborting it releases the lease so another consumer can retry. A renewer
// can keep extending the lease while handling runs long. Sends made inside
// a unit are buffered and inserted only when the unit commits.
//
// Delivery is at-least-once. A consumer that dies between receive and
// commit leaves its lease to expire, after which the row is claimed again.
package lease
