// Package domain defines core data models, contracts and the error taxonomy
// shared across the engine. It contains plain types (wire/state), interfaces
// and typed errors only.
package domain
