// Package delivery contains the Delivery bounded context.
// It turns an internal order into a carrier-specific dispatch request and keeps
// the audit trail of every attempt.
//
// Key concepts:
//   - DeliveryCompany: Aggregate describing a configured carrier (API format, mappings, pricing)
//   - FieldMapping: Rule translating one order field into one carrier API field
//   - FieldMappingEngine / MappingValidator: Pure payload construction and send-eligibility checks
//   - DeliveryOrder: Aggregate holding the dispatch lineage of one (order, carrier) pair
//   - ProviderAdapter: Port implemented once per carrier transport (REST, JSON-RPC, SOAP, GraphQL)
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package delivery
