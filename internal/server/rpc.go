package server

import (
	"encoding/json"
	"net/http"

	lerrors "github.com/copyleftdev/hmlike/internal/errors"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      interface{}       `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params,omitempty"`
}

type sweepRef struct {
	ID string `json:"sweep_id"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, codeParseError, "Parse error", nil, nil)
		return
	}
	if request.JSONRPC != "2.0" {
		s.respondWithError(w, codeInvalidRequest, "Invalid Request", request.ID, nil)
		return
	}

	var (
		result interface{}
		err    error
	)
	switch request.Method {
	case "likelihood.evaluate":
		var req EvaluateRequest
		if err = decodeParams(request.Params, &req); err == nil {
			result, err = s.Evaluate(req)
		}
	case "sweep.start":
		var req SweepRequest
		if err = decodeParams(request.Params, &req); err == nil {
			result, err = s.StartSweep(req)
		}
	case "sweep.status":
		var ref sweepRef
		if err = decodeParams(request.Params, &ref); err == nil {
			result, err = s.SweepStatus(ref.ID)
		}
	case "sweep.cancel":
		var ref sweepRef
		if err = decodeParams(request.Params, &ref); err == nil {
			if err = s.CancelSweep(ref.ID); err == nil {
				result = map[string]interface{}{"sweep_id": ref.ID, "status": StatusCancelled}
			}
		}
	default:
		s.respondWithError(w, codeMethodNotFound, "Method not found", request.ID, nil)
		return
	}

	if err != nil {
		code := codeServerError
		if lerrors.IsKind(err, lerrors.KindConfiguration) {
			code = codeInvalidParams
		}
		s.respondWithError(w, code, err.Error(), request.ID, map[string]interface{}{
			"kind": lerrors.KindOf(err).String(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	})
}

// decodeParams reads the single object of a positional params array.
func decodeParams(params []json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return lerrors.Configuration("missing required parameters").WithComponent("server")
	}
	if err := json.Unmarshal(params[0], v); err != nil {
		return lerrors.Configuration("invalid parameter format: %v", err).WithComponent("server")
	}
	return nil
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}, data interface{}) {
	s.logger.Warn("RPC error", map[string]interface{}{
		"code":    code,
		"message": message,
	})

	rpcErr := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if data != nil {
		rpcErr["data"] = data
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"error":   rpcErr,
		"id":      id,
	})
}
