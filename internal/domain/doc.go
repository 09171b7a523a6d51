// Package domain defines the core domain types and interfaces.
//
// Overlays, stream settings and stream identifiers live here together with the
// repository contracts the adapters implement. No storage or transport code.
package domain
