package v1alpha1

import (
	"net/http"

	api "github.com/strin/fortify/api/v1alpha1"
)

func (h *ServiceHandler) Health(w http.ResponseWriter, r *http.Request) {
	replyJSON(w, r, http.StatusOK, api.Health{Status: "ok"})
}
