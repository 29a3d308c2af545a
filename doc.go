// Package cget implements a streaming, content-addressable HTTP fetch cache.
//
// Given a URI (http(s), file, urn, or relative path), Cache.Fetch produces a
// readable byte stream plus response metadata, transparently serving from a
// local filesystem mirror when possible and falling back to network
// retrieval. The mirror is directly browsable: each remote resource is
// stored as a plain file at a path derived from its URL, with sidecar JSON
// metadata in a companion "<path>.header.json" file.
//
// The fetch pipeline is a small ordered chain of strategies — LocalFetch,
// FileSystemCache, RemoteFetch — composed by Cache and driven by
// fetchDetect, the main retry/redirect loop. See DESIGN.md for how each
// piece maps back onto its grounding in this module's teacher.
package cget
