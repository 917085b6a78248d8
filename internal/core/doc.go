// Package core provides identity resolution, batch ingestion and deletion
// planning for project/subject/sample records.
//
// This package contains all domain logic independent of any transport or
// storage engine. It is used by the HTTP server, the ingest CLI and tests
// without modification. Storage backends implement [Store] and live under
// internal/database.
//
// # Data Model
//
// A [Project] groups samples, a [Subject] is a participant and a [Sample]
// is one measurement of a subject within a project. Samples reference both
// parents; deleting a parent removes its samples in the same transaction.
//
// # Ingestion
//
// [Engine.Run] reads tabular records and, for every row:
//
//  1. Normalizes cells (null tokens, sex codes, treatment and sample type codes)
//  2. Resolves the project and subject through a run-scoped [Resolver]
//  3. Inserts the sample
//
// Rows are committed in windows of [IngestOptions.CommitFrequency]. With
// [PolicyWindow] a failing row rolls back its whole window; with
// [PolicyRow] only the row is undone. A dry run rolls everything back.
//
// [Service] adds concurrency limits, run timeouts and asynchronous runs with
// progress subscriptions on top of the engine.
//
// # Deletion
//
// The [Planner] computes the [Impact] of a delete and refuses deletes with
// more dependent samples than the threshold unless forced. A refused delete
// returns a conflict [Error] that carries the impact.
//
// # Error Handling
//
// Every operation returns a *[Error] with a [ErrorKind]. Technical messages
// are mapped to user-facing text with a support code by [MapError].
package core
