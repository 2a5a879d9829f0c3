// Package vector provides the in-memory similarity index.
//
// Documents come from two places: a static reference corpus embedded in the
// binary (corpus.yaml) and rows of tables flagged as vector eligible in the
// relational store. RowDocument converts a row into a Document.
//
// Every Rebuild assigns each document a fresh random unit vector, so
// similarity scores are only comparable within one build. Queries are
// brute-force dot products guarded by a read lock.
package vector
