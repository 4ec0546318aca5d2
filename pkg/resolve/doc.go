// SPDX-License-Identifier: MPL-2.0

// Package resolve builds the dependency graph of a set of root requirements
// against a registry.Registry and orders it for installation.
//
// Expansion runs in waves. Each wave selects, in parallel, the best release
// for every package whose accumulated requirement changed, then a single
// merge step folds the selected manifests' dependencies into the
// per-package accumulators in a fixed order. Accumulators only ever narrow:
// a contribution is recorded once per dependent release and never
// retracted, which bounds the number of waves by the number of releases
// involved. A contribution that does not intersect the accumulator is a
// ConflictError naming both sides.
//
// After expansion the reachable graph is checked for cycles and, when asked
// for a Plan, sorted with dependencies first.
package resolve
