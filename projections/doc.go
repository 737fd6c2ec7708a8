// Package projections replays event streams into derived state.
//
// Three kinds of projection share one loop. Query projections fold events
// into in-memory state and return it. Emitter projections write new streams
// from the events they read. Read-model projections maintain an external
// read model. Emitters and read models checkpoint their stream positions and
// state through a Provider and hold an expiring lock row, so several
// processes can start the same projection while only one runs it.
//
// A run is a sequence of cycles; each cycle threads a Subscription through a
// chain of activities that load due events, hand them to the reactors,
// handle stream gaps, checkpoint, and react to stop, reset and delete
// requests written by a Manager.
package projections
