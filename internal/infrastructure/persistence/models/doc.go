// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer free
// from ORM concerns.
//
// Structure:
//   - base.go: BaseModel shared by every table
//   - delivery.go: delivery companies and delivery orders, with JSON columns
//     for field mappings, value rules and resend history
//   - order_snapshot.go: the read-only order documents used as mapping input
package models
