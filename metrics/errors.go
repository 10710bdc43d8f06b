// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

// Package metrics exposes the stable error codes and categories as
// Prometheus counters/gauges, plus process health fed from gopsutil for the
// mesh task registry's health reports.
package metrics

// Category is one of six error categories.
type Category string

const (
	CategoryMalformedInput     Category = "malformed_input"
	CategorySafetyViolation    Category = "safety_violation"
	CategoryLivenessStall      Category = "liveness_stall"
	CategoryPersistenceCorrupt Category = "persistence_corruption"
	CategoryResourceExhaustion Category = "resource_exhaustion"
	CategoryInternalInvariant  Category = "internal_invariant"
)

// Code is a stable, stringly-typed error code within a Category, matching
// named variants (InvalidProposal, BadSignature, ...).
type Code string

const (
	CodeInvalidProposal Code = "InvalidProposal"
	CodeBadSignature    Code = "BadSignature"
	CodeMalformedBatch  Code = "MalformedBatch"

	CodeDuplicateVote       Code = "DuplicateVote"
	CodeConflictingProposal Code = "ConflictingProposal"

	CodeTimeout        Code = "Timeout"
	CodeQcInsufficient Code = "QcInsufficient"

	CodeCorruptWal       Code = "CorruptWal"
	CodeChecksumMismatch Code = "ChecksumMismatch"

	CodeQueueFull Code = "QueueFull"

	CodeInvariantViolation Code = "InvariantViolation"
)

// categoryOf maps a Code to its owning Category, so callers only need to
// name the code; Record derives the category.
var categoryOf = map[Code]Category{
	CodeInvalidProposal: CategoryMalformedInput,
	CodeBadSignature:    CategoryMalformedInput,
	CodeMalformedBatch:  CategoryMalformedInput,

	CodeDuplicateVote:       CategorySafetyViolation,
	CodeConflictingProposal: CategorySafetyViolation,

	CodeTimeout:        CategoryLivenessStall,
	CodeQcInsufficient: CategoryLivenessStall,

	CodeCorruptWal:       CategoryPersistenceCorrupt,
	CodeChecksumMismatch: CategoryPersistenceCorrupt,

	CodeQueueFull: CategoryResourceExhaustion,

	CodeInvariantViolation: CategoryInternalInvariant,
}
