// Package snapshot defines the types and collaborator interfaces shared by the
// render, annotate and publish stages of the snapshot pipeline.
package snapshot
