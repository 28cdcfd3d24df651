// Package store holds the persistence primitives shared by the SQL-backed
// message and session stores: the DBTX abstraction over connections and
// transactions, generic store errors, and a transaction helper.
package store
