// Package catalog loads the gateway configuration and the backend server
// catalog from a single file.
//
// The canonical format is JSON ({gateway:{...}, servers:{...}}); YAML is
// accepted for hand-written catalogs. Validation collects every problem in
// a definition instead of failing on the first, so one broken server entry
// does not take down the rest of the catalog.
package catalog
