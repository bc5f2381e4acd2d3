// Package device defines the central-role radio capability that the peripheral
// coordinator drives, together with the shared error taxonomy.
//
// This package contains no radio code of its own. It provides:
//   - The Radio contract: power state, scan start/stop, connect/disconnect and
//     identifier-based retrieval, all fire-and-forget
//   - Event values delivered asynchronously by a Radio implementation
//   - Connection and power state enumerations
//   - Typed errors (IndexError, DuplicateError, RadioError, PersistError,
//     TransitionError) and their sentinel values for errors.Is checks
//
// The go-ble backed implementation lives in the go-ble subpackage.
package device
