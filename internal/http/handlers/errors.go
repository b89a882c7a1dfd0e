package handlers

// Error codes carried in ErrorResponse.Code. Clients branch on these rather
// than on messages.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"

	ErrCodeSuggestFailed = "suggest_failed"
	ErrCodeListFailed    = "list_failed"
	ErrCodeLookupFailed  = "lookup_failed"
)
