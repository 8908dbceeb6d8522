// Package chat runs conversation turns against a Generator and streams the
// reply as chatstream events.
//
// A Stream moves through Pending, Streaming and then Completed or Aborted.
// Events travel over an unbuffered channel, so the producer never runs
// ahead of the consumer by more than one event. Whatever text the consumer
// accepted is persisted on every exit path: with status complete when the
// generator finished, failed otherwise.
package chat
