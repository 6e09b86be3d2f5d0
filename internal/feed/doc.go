// Package feed produces the snapshots the hub broadcasts.
//
// A Source yields one immutable payload per collection; the Driver owns the
// tick loop, assigns sequence numbers, writes the cache, and publishes.
// Collection failures never stall the loop: the last good snapshot keeps
// being re-broadcast until the source recovers.
package feed
