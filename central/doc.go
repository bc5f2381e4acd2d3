// Package central coordinates the BLE central role: it owns the registry of
// known peripherals, filters discoveries through the identity matcher, drives
// the per-peripheral connection state machine from radio events and fans the
// resulting notifications out to observers.
//
// Every command, query and radio event is applied on one executor goroutine,
// so callers may use a Coordinator from any goroutine. Indices returned by
// queries are only valid until the next mutation.
package central
