// Package queryir provides the query representation shared by the record
// store backends.
//
// The database engine builds queries from caller input (field equality
// maps, commit parameters) and hands them to a store. The SQLite store
// compiles them to SQL (see querysql); the Pebble store evaluates
// predicates in memory with Match. Both must agree, so the semantics of
// every node are defined here and Match is the reference evaluator.
//
// SEALED INTERFACES:
//
// Query and Predicate are sealed interfaces using the marker method pattern.
// Only types in this package can implement them, so backends can switch
// exhaustively.
package queryir
