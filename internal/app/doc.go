// Package app provides the application service layer.
//
// Orchestrates use cases: overlay CRUD with write-through to the registry, and
// stream session configuration on top of the ingestion supervisors.
// Sits between HTTP handlers and domain repositories. Depends on domain interfaces, not concrete implementations.
package app
