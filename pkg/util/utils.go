package util

import "github.com/go-ble/ble"

// UuidIsEmpty reports whether a UUID is unset
func UuidIsEmpty(u ble.UUID) bool {
	return len(u) == 0
}

// MustParseUUID parses s or panics, for package level constants
func MustParseUUID(s string) ble.UUID {
	return ble.MustParse(s)
}
