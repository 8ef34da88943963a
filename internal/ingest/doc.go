// Package ingest feeds the store from outside the sync protocol.
//
// Seed loaders (CSV, Parquet, synthetic) run once at startup. The SNMP
// producer polls devices for the lifetime of the process and adds one
// sample per OID per poll.
package ingest
