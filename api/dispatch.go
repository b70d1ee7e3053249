package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/knowgraph/ragstore/apperr"
	"github.com/knowgraph/ragstore/chunking"
	"github.com/knowgraph/ragstore/coordinator"
	"github.com/knowgraph/ragstore/graph"
	"github.com/knowgraph/ragstore/graphtext"
	"github.com/knowgraph/ragstore/migrate"
	"github.com/knowgraph/ragstore/model"
	"github.com/knowgraph/ragstore/storage"
)

// Runtime wires together the components a Dispatch call needs: the
// storage backend, the Coordinator, the Graph Store façade, and the
// Migration Manager. It is process-wide and constructed once at
// startup (REDESIGN FLAGS item 1: an explicit struct, not a global).
type Runtime struct {
	Adapter     storage.Adapter
	Coordinator *coordinator.Coordinator
	Graph       *graph.Store
	Migrations  *migrate.Manager
	Logger      *slog.Logger

	// QueryTimeout bounds every dispatched operation; zero disables the
	// deadline.
	QueryTimeout time.Duration
}

// Dispatch routes one tool-call operation to the Runtime. It is the
// function the (out-of-scope) RPC transport would invoke per request;
// this package defines no listener, framing, or transport itself. Each
// call runs under the Runtime's QueryTimeout; on expiry the operation's
// transaction rolls back and the caller receives a Timeout error.
func Dispatch(ctx context.Context, rt *Runtime, op string, raw json.RawMessage) (json.RawMessage, error) {
	if rt.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.QueryTimeout)
		defer cancel()
	}
	out, err := rt.route(ctx, op, raw)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, apperr.Timeout("api.Dispatch", err)
	}
	return out, err
}

func (rt *Runtime) route(ctx context.Context, op string, raw json.RawMessage) (json.RawMessage, error) {
	switch op {
	case "createEntities":
		return dispatch(raw, rt.createEntities(ctx))
	case "createRelations":
		return dispatch(raw, rt.createRelations(ctx))
	case "addObservations":
		return dispatch(raw, rt.addObservations(ctx))
	case "deleteEntities":
		return dispatch(raw, rt.deleteEntities(ctx))
	case "deleteObservations":
		return dispatch(raw, rt.deleteObservations(ctx))
	case "deleteRelations":
		return dispatch(raw, rt.deleteRelations(ctx))
	case "readGraph":
		return rt.readGraph(ctx)
	case "searchNodes":
		return dispatch(raw, rt.searchNodes(ctx))
	case "openNodes":
		return dispatch(raw, rt.openNodes(ctx))
	case "storeDocument":
		return dispatch(raw, rt.storeDocument(ctx))
	case "extractTerms":
		return dispatch(raw, rt.extractTerms(ctx))
	case "linkEntitiesToDocument":
		return dispatch(raw, rt.linkEntitiesToDocument(ctx))
	case "hybridSearch":
		return dispatch(raw, rt.hybridSearch(ctx))
	case "getDetailedContext":
		return dispatch(raw, rt.getDetailedContext(ctx))
	case "getKnowledgeGraphStats":
		return rt.getKnowledgeGraphStats(ctx)
	case "deleteDocuments":
		return dispatch(raw, rt.deleteDocuments(ctx))
	case "listDocuments":
		return dispatch(raw, rt.listDocuments(ctx))
	case "reEmbedEverything":
		return rt.reEmbedEverything(ctx)
	case "getMigrationStatus":
		return rt.getMigrationStatus(ctx)
	case "runMigrations":
		return rt.runMigrations(ctx)
	case "rollbackMigration":
		return dispatch(raw, rt.rollbackMigration(ctx))
	default:
		return nil, apperr.Validation("api.Dispatch", fmt.Errorf("unknown operation %q", op))
	}
}

// validator is satisfied by every request struct in this package.
type validator interface {
	Validate() error
}

// handlerFunc decodes and validates a request, then executes it.
type handlerFunc func(raw json.RawMessage) (json.RawMessage, error)

// dispatch runs the handler that one of the per-operation methods below
// built on the raw request; it exists so each case in Dispatch's switch
// reads as one line.
func dispatch(raw json.RawMessage, h handlerFunc) (json.RawMessage, error) {
	return h(raw)
}

func decode[T validator](raw json.RawMessage) (T, error) {
	var req T
	if len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			return req, apperr.Validation("api.decode", err)
		}
	}
	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}

func encode(v any) (json.RawMessage, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return nil, apperr.Backend("api.encode", err)
	}
	return out, nil
}

// FormatError renders err as the text payload §6 specifies for
// tool-invocation errors: "Error: <message>".
func FormatError(err error) string {
	return "Error: " + err.Error()
}

func (rt *Runtime) createEntities(ctx context.Context) handlerFunc {
	return func(raw json.RawMessage) (json.RawMessage, error) {
		req, err := decode[CreateEntitiesRequest](raw)
		if err != nil {
			return nil, err
		}
		inputs := make([]storage.EntityInput, len(req.Entities))
		for i, e := range req.Entities {
			inputs[i] = storage.EntityInput{Name: e.Name, Type: e.EntityType, Observations: e.Observations}
		}
		entities, err := rt.Adapter.CreateEntities(ctx, inputs)
		if err != nil {
			return nil, err
		}
		return encode(map[string]any{"entities": entities})
	}
}

func (rt *Runtime) createRelations(ctx context.Context) handlerFunc {
	return func(raw json.RawMessage) (json.RawMessage, error) {
		req, err := decode[CreateRelationsRequest](raw)
		if err != nil {
			return nil, err
		}
		inputs := make([]storage.RelationInput, len(req.Relations))
		for i, r := range req.Relations {
			inputs[i] = storage.RelationInput{From: r.From, To: r.To, Type: r.RelationType, Confidence: 1.0}
		}
		relations, err := rt.Adapter.CreateRelations(ctx, inputs)
		if err != nil {
			return nil, err
		}
		return encode(map[string]any{"relations": relations})
	}
}

func (rt *Runtime) addObservations(ctx context.Context) handlerFunc {
	return func(raw json.RawMessage) (json.RawMessage, error) {
		req, err := decode[AddObservationsRequest](raw)
		if err != nil {
			return nil, err
		}
		inputs := make([]storage.ObservationInput, len(req.Observations))
		for i, o := range req.Observations {
			inputs[i] = storage.ObservationInput{Name: o.EntityName, Contents: o.Contents}
		}
		added, err := rt.Adapter.AddObservations(ctx, inputs)
		if err != nil {
			return nil, err
		}
		return encode(map[string]any{"added": added})
	}
}

func (rt *Runtime) deleteObservations(ctx context.Context) handlerFunc {
	return func(raw json.RawMessage) (json.RawMessage, error) {
		req, err := decode[DeleteObservationsRequest](raw)
		if err != nil {
			return nil, err
		}
		inputs := make([]storage.ObservationInput, len(req.Deletions))
		for i, o := range req.Deletions {
			inputs[i] = storage.ObservationInput{Name: o.EntityName, Contents: o.Observations}
		}
		if err := rt.Adapter.DeleteObservations(ctx, inputs); err != nil {
			return nil, err
		}
		return encode(map[string]any{"ok": true})
	}
}

func (rt *Runtime) deleteRelations(ctx context.Context) handlerFunc {
	return func(raw json.RawMessage) (json.RawMessage, error) {
		req, err := decode[DeleteRelationsRequest](raw)
		if err != nil {
			return nil, err
		}
		inputs := make([]storage.RelationInput, len(req.Relations))
		for i, r := range req.Relations {
			inputs[i] = storage.RelationInput{From: r.From, To: r.To, Type: r.RelationType}
		}
		if err := rt.Adapter.DeleteRelations(ctx, inputs); err != nil {
			return nil, err
		}
		return encode(map[string]any{"ok": true})
	}
}

func (rt *Runtime) deleteEntities(ctx context.Context) handlerFunc {
	return func(raw json.RawMessage) (json.RawMessage, error) {
		req, err := decode[DeleteEntitiesRequest](raw)
		if err != nil {
			return nil, err
		}
		if err := rt.Coordinator.DeleteEntities(ctx, req.EntityNames); err != nil {
			return nil, err
		}
		return encode(map[string]any{"ok": true})
	}
}

func (rt *Runtime) readGraph(ctx context.Context) (json.RawMessage, error) {
	entities, relations, err := rt.Graph.ReadGraph(ctx)
	if err != nil {
		return nil, err
	}
	return encode(map[string]any{"entities": entities, "relations": relations})
}

func (rt *Runtime) openNodes(ctx context.Context) handlerFunc {
	return func(raw json.RawMessage) (json.RawMessage, error) {
		req, err := decode[OpenNodesRequest](raw)
		if err != nil {
			return nil, err
		}
		entities, relations, err := rt.Graph.OpenNodes(ctx, req.Names)
		if err != nil {
			return nil, err
		}
		return encode(map[string]any{"entities": entities, "relations": relations})
	}
}

func (rt *Runtime) searchNodes(ctx context.Context) handlerFunc {
	return func(raw json.RawMessage) (json.RawMessage, error) {
		req, err := decode[SearchOptions](raw)
		if err != nil {
			return nil, err
		}
		kinds := []storage.SearchKind{storage.SearchKindEntity, storage.SearchKindDocumentChunk}
		if len(req.Kinds) > 0 {
			kinds = kinds[:0]
			for _, k := range req.Kinds {
				kinds = append(kinds, storage.SearchKind(k))
			}
		}
		result, err := rt.Graph.SearchNodes(ctx, req.Query, req.LimitOrDefault(10), kinds)
		if err != nil {
			return nil, err
		}
		return encode(result)
	}
}

func (rt *Runtime) storeDocument(ctx context.Context) handlerFunc {
	return func(raw json.RawMessage) (json.RawMessage, error) {
		req, err := decode[StoreDocumentRequest](raw)
		if err != nil {
			return nil, err
		}
		meta := model.Metadata{}
		for k, v := range req.Metadata {
			meta[k] = v
		}
		doc := &model.Document{ID: req.ID, Content: req.Content, Metadata: meta}
		result, err := rt.Coordinator.StoreDocument(ctx, doc, chunking.DefaultOptions())
		if err != nil {
			return nil, err
		}
		return encode(map[string]any{"stored": true, "chunksCreated": result.ChunksCreated, "chunksEmbedded": result.ChunksEmbedded})
	}
}

func (rt *Runtime) extractTerms(ctx context.Context) handlerFunc {
	return func(raw json.RawMessage) (json.RawMessage, error) {
		req, err := decode[ExtractTermsRequest](raw)
		if err != nil {
			return nil, err
		}
		opts := graphtext.ExtractOptions{
			MinLength:          req.MinLength,
			IncludeCapitalized: req.IncludeCapitalizedOrDefault(),
			CustomPatterns:     req.CustomPatterns,
		}
		if opts.MinLength == 0 {
			opts.MinLength = 3
		}
		terms, err := rt.Adapter.ExtractTerms(ctx, req.DocumentID, opts)
		if err != nil {
			return nil, err
		}
		return encode(map[string]any{"terms": terms})
	}
}

func (rt *Runtime) linkEntitiesToDocument(ctx context.Context) handlerFunc {
	return func(raw json.RawMessage) (json.RawMessage, error) {
		req, err := decode[LinkEntitiesToDocumentRequest](raw)
		if err != nil {
			return nil, err
		}
		if err := rt.Adapter.LinkEntitiesToDocument(ctx, req.DocumentID, req.EntityNames); err != nil {
			return nil, err
		}
		return encode(map[string]any{"ok": true})
	}
}

func (rt *Runtime) hybridSearch(ctx context.Context) handlerFunc {
	return func(raw json.RawMessage) (json.RawMessage, error) {
		req, err := decode[HybridSearchRequest](raw)
		if err != nil {
			return nil, err
		}
		limit := req.Limit
		if limit <= 0 {
			limit = 5
		}
		results, err := rt.Adapter.HybridSearch(ctx, req.Query, limit, req.UseGraphOrDefault())
		if err != nil {
			return nil, err
		}
		return encode(map[string]any{"results": results})
	}
}

func (rt *Runtime) getDetailedContext(ctx context.Context) handlerFunc {
	return func(raw json.RawMessage) (json.RawMessage, error) {
		req, err := decode[GetDetailedContextRequest](raw)
		if err != nil {
			return nil, err
		}
		result, err := rt.Adapter.GetDetailedContext(ctx, req.ChunkID, req.IncludeSurrounding)
		if err != nil {
			return nil, err
		}
		return encode(result)
	}
}

func (rt *Runtime) getKnowledgeGraphStats(ctx context.Context) (json.RawMessage, error) {
	stats, err := rt.Adapter.GetKnowledgeGraphStats(ctx)
	if err != nil {
		return nil, err
	}
	return encode(stats)
}

func (rt *Runtime) deleteDocuments(ctx context.Context) handlerFunc {
	return func(raw json.RawMessage) (json.RawMessage, error) {
		req, err := decode[DeleteDocumentsRequest](raw)
		if err != nil {
			return nil, err
		}
		outcome, err := rt.Coordinator.DeleteDocuments(ctx, req.DocumentIDs)
		if err != nil {
			return nil, err
		}
		return encode(outcome)
	}
}

func (rt *Runtime) listDocuments(ctx context.Context) handlerFunc {
	return func(raw json.RawMessage) (json.RawMessage, error) {
		req, err := decode[ListDocumentsRequest](raw)
		if err != nil {
			return nil, err
		}
		docs, err := rt.Adapter.ListDocuments(ctx, req.IncludeMetadata)
		if err != nil {
			return nil, err
		}
		return encode(map[string]any{"documents": docs})
	}
}

func (rt *Runtime) reEmbedEverything(ctx context.Context) (json.RawMessage, error) {
	counts, err := rt.Coordinator.ReEmbedEverything(ctx)
	if err != nil {
		return nil, err
	}
	return encode(counts)
}

func (rt *Runtime) getMigrationStatus(ctx context.Context) (json.RawMessage, error) {
	status, err := rt.Migrations.Status(ctx)
	if err != nil {
		return nil, err
	}
	return encode(status)
}

func (rt *Runtime) runMigrations(ctx context.Context) (json.RawMessage, error) {
	if err := rt.Migrations.Run(ctx); err != nil {
		return nil, err
	}
	status, err := rt.Migrations.Status(ctx)
	if err != nil {
		return nil, err
	}
	return encode(status)
}

func (rt *Runtime) rollbackMigration(ctx context.Context) handlerFunc {
	return func(raw json.RawMessage) (json.RawMessage, error) {
		req, err := decode[RollbackMigrationRequest](raw)
		if err != nil {
			return nil, err
		}
		if err := rt.Migrations.Rollback(ctx, req.TargetVersion); err != nil {
			return nil, err
		}
		status, err := rt.Migrations.Status(ctx)
		if err != nil {
			return nil, err
		}
		return encode(status)
	}
}
