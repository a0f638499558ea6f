// Package stores provides the SQLite index behind the provisioning profile
// cache. It records saved target definitions, the profiles each of them
// references, and one row per profile written to disk, so that orphaned
// profiles can be found without reading every profile document.
//
// The database runs in WAL mode; the schema is managed with embedded
// golang-migrate migrations.
package stores
