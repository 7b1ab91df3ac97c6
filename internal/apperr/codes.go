package apperr

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	CodeValidation          Code = "VALIDATION"
	CodeNotFound            Code = "NOT_FOUND"
	CodeSessionNotFinished  Code = "SESSION_NOT_FINISHED"
	CodeStaleDuel           Code = "STALE_DUEL"
	CodeDuplicateVote       Code = "DUPLICATE_VOTE"
	CodeAlreadyAcknowledged Code = "ALREADY_ACKNOWLEDGED"
	CodeDuelNotResolved     Code = "DUEL_NOT_RESOLVED"
	CodeSessionFinished     Code = "SESSION_FINISHED"
	CodeActiveSessionExists Code = "ACTIVE_SESSION_EXISTS"
	CodeForbidden           Code = "FORBIDDEN"
	CodeUnauthenticated     Code = "UNAUTHENTICATED"
	CodeConflict            Code = "CONFLICT"
	CodeInternal            Code = "INTERNAL"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation:
		return http.StatusBadRequest

	case CodeNotFound, CodeSessionNotFinished:
		return http.StatusNotFound

	// Rejected against current state; the client should refetch.
	case CodeStaleDuel,
		CodeDuplicateVote,
		CodeAlreadyAcknowledged,
		CodeDuelNotResolved,
		CodeSessionFinished,
		CodeActiveSessionExists,
		CodeConflict:
		return http.StatusConflict

	case CodeForbidden:
		return http.StatusForbidden

	case CodeUnauthenticated:
		return http.StatusUnauthorized

	default:
		return http.StatusInternalServerError
	}
}

// Idempotent reports whether a client can safely ignore the rejection.
func (c Code) Idempotent() bool {
	return c == CodeDuplicateVote || c == CodeAlreadyAcknowledged
}
