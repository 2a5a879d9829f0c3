// Package backend is the execution backend of the data engine.
//
// A Backend exclusively owns one relational store and one similarity index.
// Callers reach it either through typed methods or through Dispatch, which
// takes an Op and a JSON payload. The isolated worker and the in-process
// fallback both go through Dispatch, so the two modes cannot drift apart.
//
// # Mutations
//
// Operations that change the database (mutating statements in
// execute-query, table creation, vector eligibility, maintenance, entity
// upserts and deletes, and the first fresh or restored initialize) schedule
// a snapshot through the Snapshotter after the result is computed. The save
// runs detached; its outcome never reaches the caller.
//
// # Errors
//
// Errors cross the isolation boundary as ErrorInfo{Kind, Message}. The Kind
// maps back to a sentinel, so errors.Is works the same on both sides.
package backend
