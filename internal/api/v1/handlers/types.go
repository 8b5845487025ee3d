package handlers

// Slug labels the outcome of a registry API response
type Slug string

// Response slugs
const (
	SuccessSlug      Slug = "success"
	ErrorSlug        Slug = "error"
	InvalidInputSlug Slug = "invalid-input"
	NotFoundSlug     Slug = "not-found"
	ConflictSlug     Slug = "conflict"
	ServerErrorSlug  Slug = "server-error"
)

// Response is the envelope for every registry API response
type Response struct {
	Slug  Slug        `json:"slug"`
	Error string      `json:"error,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

func errInvalidInput(msg string) Response {
	return Response{
		Slug:  InvalidInputSlug,
		Error: msg,
	}
}

func errNotFound(msg string) Response {
	return Response{
		Slug:  NotFoundSlug,
		Error: msg,
	}
}

func errConflict(msg string) Response {
	return Response{
		Slug:  ConflictSlug,
		Error: msg,
	}
}

func errServer(msg string) Response {
	return Response{
		Slug:  ServerErrorSlug,
		Error: msg,
	}
}
