// Package api defines the JSON request/response shapes of every tool in
// §6 as concrete, validated Go structs (REDESIGN FLAGS item 2), and a
// Dispatch façade the out-of-scope RPC transport would call. No network
// listener, JSON-RPC framing, or stdio transport lives here.
package api

import (
	"encoding/json"
	"fmt"

	"github.com/knowgraph/ragstore/apperr"
)

// EntityRequest is one entity in a createEntities call.
type EntityRequest struct {
	Name         string   `json:"name"`
	EntityType   string   `json:"entityType"`
	Observations []string `json:"observations"`
}

// CreateEntitiesRequest is createEntities's argument shape.
type CreateEntitiesRequest struct {
	Entities []EntityRequest `json:"entities"`
}

func (r CreateEntitiesRequest) Validate() error {
	if len(r.Entities) == 0 {
		return apperr.Validation("CreateEntitiesRequest.Validate", fmt.Errorf("entities must be non-empty"))
	}
	for i, e := range r.Entities {
		if e.Name == "" {
			return apperr.Validation("CreateEntitiesRequest.Validate", fmt.Errorf("entities[%d].name is required", i))
		}
	}
	return nil
}

// RelationRequest is one relation in a createRelations/deleteRelations call.
type RelationRequest struct {
	From         string `json:"from"`
	To           string `json:"to"`
	RelationType string `json:"relationType"`
}

type CreateRelationsRequest struct {
	Relations []RelationRequest `json:"relations"`
}

func (r CreateRelationsRequest) Validate() error {
	if len(r.Relations) == 0 {
		return apperr.Validation("CreateRelationsRequest.Validate", fmt.Errorf("relations must be non-empty"))
	}
	for i, rel := range r.Relations {
		if rel.From == "" || rel.To == "" || rel.RelationType == "" {
			return apperr.Validation("CreateRelationsRequest.Validate", fmt.Errorf("relations[%d] requires from, to, relationType", i))
		}
	}
	return nil
}

type DeleteRelationsRequest struct {
	Relations []RelationRequest `json:"relations"`
}

func (r DeleteRelationsRequest) Validate() error {
	if len(r.Relations) == 0 {
		return apperr.Validation("DeleteRelationsRequest.Validate", fmt.Errorf("relations must be non-empty"))
	}
	return nil
}

// ObservationAdditionRequest is one entity's batch in addObservations.
type ObservationAdditionRequest struct {
	EntityName string   `json:"entityName"`
	Contents   []string `json:"contents"`
}

// ObservationsRequest is one entity's batch in deleteObservations.
type ObservationsRequest struct {
	EntityName   string   `json:"entityName"`
	Observations []string `json:"observations"`
}

type AddObservationsRequest struct {
	Observations []ObservationAdditionRequest `json:"observations"`
}

func (r AddObservationsRequest) Validate() error {
	if len(r.Observations) == 0 {
		return apperr.Validation("AddObservationsRequest.Validate", fmt.Errorf("observations must be non-empty"))
	}
	return nil
}

type DeleteObservationsRequest struct {
	Deletions []ObservationsRequest `json:"deletions"`
}

func (r DeleteObservationsRequest) Validate() error {
	if len(r.Deletions) == 0 {
		return apperr.Validation("DeleteObservationsRequest.Validate", fmt.Errorf("deletions must be non-empty"))
	}
	return nil
}

type DeleteEntitiesRequest struct {
	EntityNames []string `json:"entityNames"`
}

func (r DeleteEntitiesRequest) Validate() error {
	if len(r.EntityNames) == 0 {
		return apperr.Validation("DeleteEntitiesRequest.Validate", fmt.Errorf("entityNames must be non-empty"))
	}
	return nil
}

type OpenNodesRequest struct {
	Names []string `json:"names"`
}

// Validate accepts an empty names list: openNodes([]) returns empty
// entities and relations rather than an error.
func (OpenNodesRequest) Validate() error { return nil }

// SearchOptions parameterizes searchNodes (REDESIGN FLAGS item 2: an
// enumerated struct, not a dynamic options dict). searchNodes does not
// read UseGraph.
type SearchOptions struct {
	Query    string   `json:"query"`
	Limit    int      `json:"limit,omitempty"`
	UseGraph *bool    `json:"useGraph,omitempty"`
	Kinds    []string `json:"kinds,omitempty"`
}

func (o SearchOptions) Validate() error {
	if o.Query == "" {
		return apperr.Validation("SearchOptions.Validate", fmt.Errorf("query is required"))
	}
	if o.Limit < 0 {
		return apperr.Validation("SearchOptions.Validate", fmt.Errorf("limit must not be negative"))
	}
	for _, k := range o.Kinds {
		if k != "entity" && k != "documentChunk" {
			return apperr.Validation("SearchOptions.Validate", fmt.Errorf("unknown kind %q", k))
		}
	}
	return nil
}

// UseGraphOrDefault returns UseGraph if set, else true.
func (o SearchOptions) UseGraphOrDefault() bool {
	if o.UseGraph == nil {
		return true
	}
	return *o.UseGraph
}

// LimitOrDefault returns Limit if positive, else def.
func (o SearchOptions) LimitOrDefault(def int) int {
	if o.Limit > 0 {
		return o.Limit
	}
	return def
}

type StoreDocumentRequest struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (r StoreDocumentRequest) Validate() error {
	if r.ID == "" {
		return apperr.Validation("StoreDocumentRequest.Validate", fmt.Errorf("id is required"))
	}
	if r.Content == "" {
		return apperr.Validation("StoreDocumentRequest.Validate", fmt.Errorf("content is required"))
	}
	return nil
}

// ExtractTermsRequest is extractTerms's argument shape (REDESIGN FLAGS
// item 2's enumerated options, flattened into the request itself).
type ExtractTermsRequest struct {
	DocumentID         string   `json:"documentId"`
	MinLength          int      `json:"minLength,omitempty"`
	IncludeCapitalized *bool    `json:"includeCapitalized,omitempty"`
	CustomPatterns     []string `json:"customPatterns,omitempty"`
}

func (r ExtractTermsRequest) Validate() error {
	if r.DocumentID == "" {
		return apperr.Validation("ExtractTermsRequest.Validate", fmt.Errorf("documentId is required"))
	}
	if r.MinLength < 0 {
		return apperr.Validation("ExtractTermsRequest.Validate", fmt.Errorf("minLength must not be negative"))
	}
	return nil
}

// IncludeCapitalizedOrDefault returns IncludeCapitalized if set, else true.
func (r ExtractTermsRequest) IncludeCapitalizedOrDefault() bool {
	if r.IncludeCapitalized == nil {
		return true
	}
	return *r.IncludeCapitalized
}

type LinkEntitiesToDocumentRequest struct {
	DocumentID  string   `json:"documentId"`
	EntityNames []string `json:"entityNames"`
}

func (r LinkEntitiesToDocumentRequest) Validate() error {
	if r.DocumentID == "" || len(r.EntityNames) == 0 {
		return apperr.Validation("LinkEntitiesToDocumentRequest.Validate", fmt.Errorf("documentId and entityNames are required"))
	}
	return nil
}

type HybridSearchRequest struct {
	Query    string `json:"query"`
	Limit    int    `json:"limit,omitempty"`
	UseGraph *bool  `json:"useGraph,omitempty"`
}

func (r HybridSearchRequest) Validate() error {
	if r.Query == "" {
		return apperr.Validation("HybridSearchRequest.Validate", fmt.Errorf("query is required"))
	}
	return nil
}

func (r HybridSearchRequest) UseGraphOrDefault() bool {
	if r.UseGraph == nil {
		return true
	}
	return *r.UseGraph
}

type GetDetailedContextRequest struct {
	ChunkID            string `json:"chunkId"`
	IncludeSurrounding bool   `json:"includeSurrounding,omitempty"`
}

func (r GetDetailedContextRequest) Validate() error {
	if r.ChunkID == "" {
		return apperr.Validation("GetDetailedContextRequest.Validate", fmt.Errorf("chunkId is required"))
	}
	return nil
}

// DeleteDocumentsRequest accepts either a single id string or a list of
// ids under documentIds.
type DeleteDocumentsRequest struct {
	DocumentIDs []string `json:"documentIds"`
}

func (r *DeleteDocumentsRequest) UnmarshalJSON(data []byte) error {
	var wrapper struct {
		DocumentIDs json.RawMessage `json:"documentIds"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return err
	}
	if len(wrapper.DocumentIDs) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(wrapper.DocumentIDs, &one); err == nil {
		r.DocumentIDs = []string{one}
		return nil
	}
	return json.Unmarshal(wrapper.DocumentIDs, &r.DocumentIDs)
}

func (r DeleteDocumentsRequest) Validate() error {
	if len(r.DocumentIDs) == 0 {
		return apperr.Validation("DeleteDocumentsRequest.Validate", fmt.Errorf("documentIds must be non-empty"))
	}
	return nil
}

type ListDocumentsRequest struct {
	IncludeMetadata bool `json:"includeMetadata,omitempty"`
}

func (ListDocumentsRequest) Validate() error { return nil }

type RollbackMigrationRequest struct {
	TargetVersion int `json:"targetVersion"`
}

func (r RollbackMigrationRequest) Validate() error {
	if r.TargetVersion < 0 {
		return apperr.Validation("RollbackMigrationRequest.Validate", fmt.Errorf("targetVersion must not be negative"))
	}
	return nil
}
