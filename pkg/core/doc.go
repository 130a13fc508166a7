// Package core defines the shared language of the tabularlint system.
//
// This package contains:
//   - The normalized Model Document (Model, Table, Column, Measure, Relationship)
//   - The Element abstraction and its addressable fields
//   - Source locations used to anchor rewrite patches
//   - Severity levels and the stage error taxonomy
//
// The Golden Rule: pkg/core imports ONLY pkg/token and stdlib.
// All other packages depend on core, not the reverse.
package core
