// Package transport sends model.Request values over HTTP and classifies
// failures.
//
// A returned *model.Response always means the server answered, whatever
// the status. A *model.ConnectivityError means it could not be reached.
// Anything else (a malformed URL, a cancelled context) is returned as is.
package transport
