// Package marketapi is a client for the item metadata API used by the bulk
// lookups.
//
// Every call sends the ApiToken header and expects the envelope
// {"code": 200, "msg": ..., "data": ...}. Answers are classified with the
// crawler's error types: a plain "Too Many Requests" body is a throttle, an
// undecodable body is malformed, and a non-200 code maps like an HTTP status.
package marketapi
