// Package mysql provides the MySQL-backed conversation and user stores. It
// owns the embedded schema migrations and the connection pool defaults.
package mysql
