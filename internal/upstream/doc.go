// Package upstream implements the network collaborator used by the fetch
// engine: an HTTP client bound to one origin's base URL, with optional Basic
// credentials, per-origin proxy, bounded body size and retry with
// exponential backoff for transient failures.
package upstream
