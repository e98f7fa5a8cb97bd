package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"svc-steward.io/steward/internal/kv"
)

// kvIndexHeader carries the entry's modify index on raw reads, where the
// body has no room for metadata.
const kvIndexHeader = "X-Kv-Index"

// KVEntryListResponse wraps a recursive subtree read.
type KVEntryListResponse struct {
	Items []*kv.Entry `json:"items"`
}

// KVKeysResponse wraps a shallow key enumeration.
type KVKeysResponse struct {
	Keys []string `json:"keys"`
}

// KVWriteResponse reports the index assigned to a single-key write.
type KVWriteResponse struct {
	ModifyIndex uint64 `json:"modify_index"`
}

// KVDeleteResponse reports how many entries a delete removed.
type KVDeleteResponse struct {
	Deleted int64 `json:"deleted"`
}

// KVTxnRequest is the POST /services/:service_id/kv-txn payload. Values
// are base64 in transit, matching encoding/json's []byte handling.
type KVTxnRequest struct {
	Operations []kv.TxnRequestOp `json:"operations" binding:"required"`
}

// KVPutListRequest is the PUT /services/:service_id/kv-list/*prefix
// payload. Deletes names item IDs to remove in the same atomic swap.
type KVPutListRequest struct {
	Structure *kv.ListStructure `json:"structure" binding:"required"`
	Deletes   []string          `json:"deletes"`
}

// kvPath extracts the key path from the route wildcard. Gin wildcards
// keep their leading slash; store paths are relative.
func kvPath(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("path"), "/")
}

func kvPrefix(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("prefix"), "/")
}

// KVGet handles GET /services/:service_id/kv/*path.
//
// The query flags select the read mode: `keys` enumerates child keys
// (with optional `separator`, default "/"), `recurse` returns the whole
// subtree, and the default is a single-entry read. `raw` returns the bare
// value bytes and `consistent` forces a linearizable read past the cache.
func (s *Server) KVGet(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}
	serviceID := c.Param("service_id")

	if queryBool(c, "keys") {
		keys, err := s.kv.Keys(c.Request.Context(), caller, serviceID, kvPath(c),
			c.DefaultQuery("separator", "/"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, KVKeysResponse{Keys: keys})
		return
	}

	if queryBool(c, "recurse") {
		entries, err := s.kv.List(c.Request.Context(), caller, serviceID, kvPath(c), true)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, KVEntryListResponse{Items: entries})
		return
	}

	entry, err := s.kv.Get(c.Request.Context(), caller, serviceID, kvPath(c),
		kv.GetOptions{Consistent: queryBool(c, "consistent")})
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("ETag", fmt.Sprintf("%q", strconv.FormatUint(entry.ModifyIndex, 10)))
	if queryBool(c, "raw") {
		c.Header(kvIndexHeader, strconv.FormatUint(entry.ModifyIndex, 10))
		c.Data(http.StatusOK, "application/octet-stream", entry.Value)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// KVPut handles PUT /services/:service_id/kv/*path. The request body is
// the value verbatim. A `cas` query parameter or `If-Match` header makes
// the write conditional on the entry's current modify index.
func (s *Server) KVPut(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}

	value, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, Error{Code: "INVALID_REQUEST", Message: "unreadable request body"})
		return
	}

	cas, ok := queryUint64(c, "cas")
	if !ok {
		c.JSON(http.StatusBadRequest, Error{Code: "INVALID_REQUEST", Message: "cas must be an unsigned integer"})
		return
	}
	ifMatch, ok := headerUint64(c, "If-Match")
	if !ok {
		c.JSON(http.StatusBadRequest, Error{Code: "INVALID_REQUEST", Message: "If-Match must quote an unsigned integer"})
		return
	}

	index, err := s.kv.Put(c.Request.Context(), caller, c.Param("service_id"), kvPath(c), value,
		kv.PutOptions{CAS: cas, IfMatch: ifMatch, Kind: kv.KindLeaf})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, KVWriteResponse{ModifyIndex: index})
}

// KVDelete handles DELETE /services/:service_id/kv/*path. `recurse`
// removes the whole subtree; `cas` guards a single-key delete.
func (s *Server) KVDelete(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}

	cas, ok := queryUint64(c, "cas")
	if !ok {
		c.JSON(http.StatusBadRequest, Error{Code: "INVALID_REQUEST", Message: "cas must be an unsigned integer"})
		return
	}

	deleted, err := s.kv.Delete(c.Request.Context(), caller, c.Param("service_id"), kvPath(c),
		kv.DeleteOptions{Recurse: queryBool(c, "recurse"), CAS: cas})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, KVDeleteResponse{Deleted: deleted})
}

// KVTxn handles POST /services/:service_id/kv-txn. The batch is atomic;
// a failed batch reports 409 with per-operation detail so the caller can
// see which precondition broke.
func (s *Server) KVTxn(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}

	var req KVTxnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Error{Code: "INVALID_REQUEST"})
		return
	}

	result, err := s.kv.Txn(c.Request.Context(), caller, c.Param("service_id"), req.Operations)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusConflict
	}
	c.JSON(status, result)
}

// KVGetList handles GET /services/:service_id/kv-list/*prefix, returning
// the manifest-backed list decoded from the subtree.
func (s *Server) KVGetList(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}

	structure, err := s.kv.GetList(c.Request.Context(), caller, c.Param("service_id"), kvPrefix(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, structure)
}

// KVPutList handles PUT /services/:service_id/kv-list/*prefix. The new
// structure and the deletions land in one transaction, so readers never
// observe a half-applied list.
func (s *Server) KVPutList(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}

	var req KVPutListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Error{Code: "INVALID_REQUEST"})
		return
	}

	result, err := s.kv.PutList(c.Request.Context(), caller, c.Param("service_id"), kvPrefix(c),
		req.Structure, req.Deletes)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusConflict
	}
	c.JSON(status, result)
}

// KVExport handles GET /services/:service_id/kv-export/*prefix. The
// subtree is rendered as one document in the requested format.
func (s *Server) KVExport(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}

	format, err := kv.ParseFormat(c.Query("format"))
	if err != nil {
		respondError(c, err)
		return
	}

	doc, err := s.kv.Document(c.Request.Context(), caller, c.Param("service_id"), kvPrefix(c),
		format, queryBool(c, "consistent"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.Data(http.StatusOK, documentContentType(format), doc)
}

func documentContentType(format kv.DocumentFormat) string {
	switch format {
	case kv.FormatYAML:
		return "application/x-yaml; charset=utf-8"
	case kv.FormatProperties:
		return "text/plain; charset=utf-8"
	default:
		return "application/json; charset=utf-8"
	}
}
