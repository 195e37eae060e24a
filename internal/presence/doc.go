// Package presence tracks which agents and users are reachable right now.
//
// # Registry
//
// Registry is the process-local source of truth for liveness: one Handle per
// (class, identity), last connect wins. The persisted isOnline flag is only a
// cache for read endpoints.
//
// # Reconciler
//
// Reconciler applies connect and disconnect transitions in this order:
//
//  1. Write presence to the directory (agents must already exist)
//  2. Register or unregister the handle
//  3. Publish a StatusEvent to the opposite class's topic
//
// Transitions for the same identity are serialized. A disconnect from a
// connection that has already been replaced is ignored, so a quick reconnect
// never ends with the identity marked offline.
//
// # Broadcaster
//
// Broadcaster fans StatusEvents out to every subscriber of a topic. Each
// websocket connection subscribes to its own class. With a RedisBackplane the
// same events reach connections held by other relay instances.
package presence
