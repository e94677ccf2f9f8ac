// Package content manages typed content items whose bytes live in a
// blob store and whose metadata lives in a document store. It provides
// a kind registry (documents, images, blog), metadata validation,
// date-partitioned storage keys, CRUD with soft delete and restore,
// tag algebra, and filtered, paginated listing.
//
// The Manager is the entry point; stores plug in through the
// MetadataStore and BlobStore interfaces.
package content
