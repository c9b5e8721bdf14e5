package api

import "net/http"

// ListAgents возвращает реестр агентов.
// GET /api/v1/agents
func (h *Handler) ListAgents(w http.ResponseWriter, _ *http.Request) {
	if h.agents == nil {
		ServiceUnavailable(w, "agent registry is not configured")
		return
	}

	refs := h.agents.List()
	result := make([]AgentResponse, len(refs))
	for i, ref := range refs {
		result[i] = AgentFromRef(ref)
	}

	List(w, result, len(result))
}
