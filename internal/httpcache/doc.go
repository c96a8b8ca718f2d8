// Package httpcache stores fetched module bodies together with their response
// headers. Each entry is two sibling files under the deps root:
//
//	<scheme>/<host>/<hash>                 # raw content
//	<scheme>/<host>/<hash>.metadata.json   # {"headers": {...}, "url": "..."}
//
// An entry whose headers carry "location" is a redirect pointer; Get returns it
// as-is and leaves following it (and counting hops) to the caller.
package httpcache
