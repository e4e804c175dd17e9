package api

import "net/http"

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("GET /v1/recipients", h.ListRecipients)
	mux.HandleFunc("GET /v1/recipients/{recipient}/messages", h.ListRecipientMessages)
	mux.HandleFunc("DELETE /v1/recipients/{recipient}/messages", h.DeleteRecipientMessages)

	mux.HandleFunc("POST /v1/messages", h.CreateMessage)
	mux.HandleFunc("DELETE /v1/messages", h.DeleteAllMessages)

	mux.HandleFunc("GET /v1/profiles/{phoneNumber}", h.GetProfile)
	mux.HandleFunc("PUT /v1/profiles/{phoneNumber}", h.UpdateProfile)
	mux.HandleFunc("POST /v1/profiles", h.CreateProfile)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("smsync"))
	})

	return mux
}
