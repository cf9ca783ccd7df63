package store

// KeyDerivations returns how many scrypt derivations have run.
func KeyDerivations() int64 { return derivations.Load() }
