// Package crawler defines the types, collaborator interfaces, and typed errors
// shared by the fetcher, extraction chain, template store, and crawl worker.
package crawler
