// Package proxy implements the request-lifecycle adapter: the glue
// between an incoming client request and the pool — sticky-cookie
// extraction, pick, forwarded headers, the reverse proxy itself, and
// the exactly-once release on completion, client abort, or upstream
// error.
package proxy
