// Package notify announces freshly published snapshots.
//
// Implementations satisfy snapshot.Notifier: memory records events in
// process, pubsub sends them as JSON to a Google Cloud Pub/Sub topic.
package notify
