// Package knowledge indexes support articles for retrieval during a
// session. Articles are markdown files in a docs directory; the index
// keeps an FTS5 keyword table and, when embeddings are enabled, a
// sqlite-vec table for semantic search. A filesystem watcher marks the
// index dirty when articles change and the next search resyncs.
package knowledge
