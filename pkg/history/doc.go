// Package history implements the room history retention and playback
// engine of the MUC service.
//
// A Strategy decides which messages sent into a room are kept, evicts
// the oldest ones when a count bound is in force, keeps the latest
// subject change aside so it is never evicted, and replays the retained
// messages in delay-stamp order to occupants that join later.
//
// Each room owns one Strategy parented to the service default. A room
// whose policy is PolicyInheritDefault follows whatever the default is
// set to at the time of each call; nothing is cached.
//
// Strategies can be bound to a namespace and key prefix in an external
// property store: binding loads "<prefix>.type" and "<prefix>.maxNumber",
// and later changes are written back to the same keys.
//
// The full state of a strategy, including its parent chain, can be
// transferred between cluster nodes with MarshalBinary and Unmarshal.
package history
