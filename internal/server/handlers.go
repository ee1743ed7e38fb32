package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/nevindra/pgagent"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type settingRequest struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type memoryRequest struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "pgagent"})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.orch.Memory().GetAllSettings(r.Context())
	if err != nil {
		s.internalError(w, "get settings", err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	var req settingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Key) == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	if err := s.orch.Memory().SetSetting(r.Context(), req.Key, req.Value); err != nil {
		s.internalError(w, "set setting", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "key": req.Key, "value": req.Value})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.orch.Memory().Stats(r.Context())
	if err != nil {
		s.internalError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", defaultMemoryLimit)
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset", 0)
	if !ok {
		return
	}
	memories, err := s.orch.Memory().ListRecent(r.Context(), limit, offset)
	if err != nil {
		s.internalError(w, "list memories", err)
		return
	}
	if memories == nil {
		memories = []pgagent.Memory{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": memories, "limit": limit, "offset": offset})
}

func (s *Server) handleStoreMemory(w http.ResponseWriter, r *http.Request) {
	var req memoryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := s.orch.StoreMemory(r.Context(), req.Content, req.Source)
	if errors.Is(err, pgagent.ErrEmptyMessage) {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if err != nil {
		s.internalError(w, "store memory", err)
		return
	}
	s.metrics.memoryOps.WithLabelValues("store").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"memory_id": id})
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	ok, err := s.orch.Memory().DeleteByID(r.Context(), r.PathValue("id"))
	if err != nil {
		s.internalError(w, "delete memory", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Memory not found")
		return
	}
	s.metrics.memoryOps.WithLabelValues("delete").Inc()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.turn(r, req)
	if errors.Is(err, pgagent.ErrEmptyMessage) {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if err != nil {
		s.internalError(w, "chat", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	if id == "" {
		id = defaultSessionID
	}
	s.orch.Sessions().Clear(id)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleChatWS runs one turn per inbound JSON message on the connection.
// Turn failures are reported in-band and keep the connection open.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxRequestBodyBytes)

	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				if werr := conn.WriteJSON(map[string]string{"error": "invalid JSON: " + err.Error()}); werr != nil {
					return
				}
				continue
			}
			s.logger.Debug("websocket closed", "err", err)
			return
		}
		res, err := s.turn(r, req)
		var out any = res
		if err != nil {
			out = map[string]string{"error": err.Error()}
		}
		if err := conn.WriteJSON(out); err != nil {
			s.logger.Debug("websocket write failed", "err", err)
			return
		}
	}
}

func (s *Server) turn(r *http.Request, req chatRequest) (pgagent.TurnResult, error) {
	if req.SessionID == "" {
		req.SessionID = defaultSessionID
	}
	res, err := s.orch.Turn(r.Context(), req.SessionID, req.Message)
	if !errors.Is(err, pgagent.ErrEmptyMessage) {
		s.metrics.turnOutcome(res, err)
	}
	return res, err
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("request failed", "op", op, "err", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

// decodeBody reads a JSON request body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, key+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
