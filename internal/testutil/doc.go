// Package testutil contains helper builders and scripted agents used across
// tests to reduce boilerplate when constructing messages and driving the
// coordinator, engine and planner without a model. They are not intended for
// production usage.
package testutil
