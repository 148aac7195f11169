// Package repository holds the MySQL and Redis data access of the service.
// Sentinel errors below let higher layers tell failure modes apart without
// inspecting driver errors.
package repository

import "errors"

// ErrVariantNotFound is returned when a price id does not exist or is
// inactive.  Checkout translates it into INVALID_ITEM.
var ErrVariantNotFound = errors.New("variant not found")

// ErrNoCanonicalVariant is returned when a slot has no 'full' variant to
// hold its seat counter.
var ErrNoCanonicalVariant = errors.New("slot has no canonical variant")

// ErrHoldConflict is returned when a seat hold cannot be placed because
// the remaining seats are already booked or held.
var ErrHoldConflict = errors.New("seats already held")
