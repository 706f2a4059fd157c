// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing core events (content, partial, tool, image,
// error and interrupt events) for transcoder and engine tests. They are not
// intended for production usage.
package testutil
