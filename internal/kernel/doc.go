// Package kernel provides the immutable-per-revision kernel model for
// loopline.
//
// This package contains type definitions, structural validation and
// content-addressed hashing only. All other internal packages import
// kernel; kernel imports nothing internal. This keeps the model the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Kernels are never mutated after construction; transforms call
//     Derive() and edit the copy, producing a new revision
//   - NO float types anywhere - affine arithmetic is int64 only
//   - Instruction declaration order is preserved and is the final
//     deterministic tie-break during linearization
//   - All JSON tags use snake_case
package kernel
