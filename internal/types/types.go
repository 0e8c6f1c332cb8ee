// Package types holds the shared data structures (models) used across
// the application. Keeping them in one place prevents import cycles:
// handlers and storage both import types without depending on each other.
package types

// Person is the single entity served by the API.
//
// Struct tags:
//
//  1. json:"..."     shape on the wire: {"id": 1, "name": "Ahmed", "age": 21}
//  2. db:"..."       column names used by sqlx when scanning rows
//  3. validate:"..." rules checked by go-playground/validator before a write
//
// ID is assigned by the store on insert and is ignored in request bodies.
// Age is any integer. Name is stored as sent; the handlers validate a
// trimmed copy, so "required" also rejects blank names.
type Person struct {
	ID   int64  `json:"id"   db:"id"`
	Name string `json:"name" db:"name" validate:"required,max=100"`
	Age  int    `json:"age"  db:"age"`
}
