// Package stream provides the change notifier for coursetree collections.
//
// A [Topic] holds the latest full snapshot of one collection and broadcasts
// every replacement to its subscribers. New subscribers receive the latest
// snapshot first (replay-one), then every later publish in order.
//
// Publishing never blocks. Each subscriber owns a bounded queue; when the
// queue is full the oldest pending snapshot is dropped, which is harmless
// because every snapshot supersedes the ones before it.
//
// A [Registry] owns one topic per collection. The store creates it on open,
// hands topics to its repositories, and closes it on shutdown, which ends
// every subscription.
package stream
