// Package ir provides the foundational value types shared by every other
// homevent package.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps Name and Level the
// bottom layer with no circular dependencies.
//
// Key design constraints:
//   - A Name is immutable once constructed; atoms are string, int64 or float64
//   - Nested names are flattened at construction time, never stored
//   - A single-atom Name compares and hashes like the bare string it wraps
//   - Canonical JSON is the only serialisation used for identity (journal keys)
package ir
