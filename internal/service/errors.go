package service

import "fmt"

// Envelope is the service's structured error response shape (spec §6):
// {code, message, hint}.
type Envelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

func notFound(message string) Envelope {
	return Envelope{Code: "not_found", Message: message}
}

func staleGeneration(expected, found uint64) Envelope {
	return Envelope{
		Code:    "stale_generation",
		Message: fmt.Sprintf("expected generation %d, found %d", expected, found),
		Hint:    "reindex and re-query before expanding",
	}
}

func alreadyIndexing() Envelope {
	return Envelope{
		Code:    "already_indexing",
		Message: "a reindex is already in flight for this repo",
	}
}

func notRepo(path string) Envelope {
	return Envelope{
		Code:    "not_repo",
		Message: "path is not a VCS root: " + path,
	}
}

func internalError(err error) Envelope {
	return Envelope{
		Code:    "internal_error",
		Message: err.Error(),
		Hint:    "check service logs for details",
	}
}
