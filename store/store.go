// Package store implements the shopstore persistence contracts on a single
// DynamoDB table. The contracts themselves are defined in the parent package
// (../store_interface.go) to avoid import cycles between shopstore and store.
//
// This package contains:
//   - the key scheme (schema.go)
//   - the counter service (counter.go)
//   - the codec between typed entities and items (codec.go)
//   - the generic repository and the per-entity repositories
//   - pagination cursors and TTL/soft-delete helpers
//   - table provisioning and AWS client construction
package store
