// Package topic implements the authoritative topic registry: the
// name <-> id <-> type <-> properties mapping owned by a server
// instance.
//
// # Id assignment
//
// Ids are the smallest unused non-negative integer at announce time,
// which makes assignment deterministic and lets ids be recycled after
// an unannounce. An unannounce followed by a re-announce of the same
// name may therefore yield a different id; everything holding the old
// id (cached values, subscriptions) must be invalidated through the
// registry's unannounce callback before the id can be reused.
//
// # Type conflicts
//
// The first announcement of a name fixes its type. A later announce of
// the same name with a different type fails with nt.ErrTypeConflict
// and leaves the registry unchanged, regardless of publisher
// (first-writer-wins). Re-announcing an identical name+type is
// idempotent and only records the additional publisher.
package topic
