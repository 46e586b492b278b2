// Package pipeline keeps HTTP/1.1 responses in request order on a single
// connection.
//
// A Coordinator tracks at most N in-flight requests in a fixed ring of
// slots. Handlers append response fragments (write units) for their request
// in any order; the connection's write loop only ever receives units from the
// oldest request that is still registered, so the bytes of request N+1 are
// never released before request N has been fully written.
//
// Small fragments are coalesced: a unit appended to a slot merges into the
// slot's last queued unit unless that unit already carries a completion
// callback or the new unit starts a new HTTP message.
//
// None of the types in this package are safe for concurrent use. The owning
// connection goroutine must serialize every call; handlers running elsewhere
// hand their responses over to that goroutine first.
package pipeline
