// Package entities defines the GORM entity models for the reader study schema.
//
// # Identity
//
//   - Reader: study participants and administrators
//
// # Study design
//
//   - StudyConfig: global study settings (singleton table, locked on first session)
//   - StudySession: one row per reader and session code, carrying the frozen
//     crossover assignment, candidate snapshot and write-once case orders
//   - SessionProgress: position pointer for a session (1:1)
//
// # Outcomes
//
//   - StudyResult: one immutable row per case within a session
//   - LesionMark: voxel coordinates marked for a result
//
// # Audit
//
//   - AuditLog: append-only record of state-changing actions
package entities
