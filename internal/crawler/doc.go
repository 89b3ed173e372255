// Package crawler defines the shared types of the archiver and implements the
// comment-tree traversal engine and the per-cycle orchestrator.
package crawler
