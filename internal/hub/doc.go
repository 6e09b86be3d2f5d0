// Package hub implements the snapshot broadcast hub using the actor pattern.
//
// A single goroutine owns the subscriber registry; all mutation flows through
// a command channel (no mutexes). Publish never blocks on a slow consumer:
// full queues drop their oldest snapshot, and subscribers that overflow on
// consecutive publishes are evicted.
package hub
