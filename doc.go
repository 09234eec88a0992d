// Package canopy is a code retrieval engine for large repositories. Agents
// issue narrow queries and get back compact, stable handles — ids with
// previews, byte spans, and token estimates — instead of whole files. A
// handle is expanded only when its content is actually needed.
//
// # Pipeline
//
// An [Engine] owns a durable on-disk store, a language parser dispatch,
// an in-memory symbol cache, and an incremental indexing pipeline:
//
//	e, err := canopy.Open(".canopy/index.db")
//	if err != nil { ... }
//	defer e.Close()
//
//	ctx := context.Background()
//	if _, err := e.IndexDirectory(ctx, ".", ""); err != nil { ... }
//
//	result, err := e.Query(canopy.QueryParams{Symbol: "AuthController", Kind: canopy.KindDefinition})
//
// # Query algebra
//
// [QueryParams] and the s-expression surface both compile to a single
// [Query] tree (text/symbol/definition/references/section/file/parent/
// children_named/in_file/union/intersect/limit). [Engine.Query] executes
// the tree against the store and symbol cache and returns a [QueryResult]
// of [Handle] and [RefHandle] values.
//
// # Evidence packs
//
// [Engine.EvidencePack] runs a query, diversifies and ranks the results, and
// attaches [Guidance] telling the caller whether to refine the query or
// expand and answer.
//
// # Modes
//
// A [Runtime] wraps an Engine for local-only use, or drives a remote
// service and merges its response with a local overlay built from files
// modified since the service's last index (see [Runtime.Query] and
// [MergeResults]).
package canopy
