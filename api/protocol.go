package api

const mutationMaxSize = 8 * 1024 // 8 KiB, mutation bodies carry one or two fields

// Success/error envelope returned by mutation endpoints.
type mutationResponse struct {
	OK    bool   `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
}

var respOK = mutationResponse{OK: true}

func respError(msg string) mutationResponse {
	return mutationResponse{Error: msg}
}
