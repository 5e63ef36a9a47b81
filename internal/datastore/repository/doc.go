// Package repository provides data access for the reader study schema.
//
// Write paths that must stay consistent under concurrent requests use
// conditional updates keyed on the expected current value, and report a lost
// race through typed sentinel errors rather than by overwriting.
package repository
