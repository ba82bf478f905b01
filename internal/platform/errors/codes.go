// Package errors provides structured error handling with i18n support.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Session errors
	CodeSessionEnded       Code = "SESSION_ENDED"
	CodeCombatNotBegun     Code = "COMBAT_NOT_BEGUN"
	CodeCombatAlreadyBegun Code = "COMBAT_ALREADY_BEGUN"
	CodePlaneOrderInvalid  Code = "PLANE_ORDER_INVALID"

	// Participant errors
	CodeParticipantNameEmpty     Code = "PARTICIPANT_NAME_EMPTY"
	CodeParticipantInvalidKind   Code = "PARTICIPANT_INVALID_KIND"
	CodeParticipantExists        Code = "PARTICIPANT_ALREADY_EXISTS"
	CodeParticipantIncapacitated Code = "PARTICIPANT_INCAPACITATED"

	// Initiative/turn errors
	CodeInvalidPlane        Code = "INVALID_PLANE"
	CodeOutOfTurn           Code = "OUT_OF_TURN"
	CodeInitiativeNotRolled Code = "INITIATIVE_NOT_ROLLED"
	CodeScoreInvalid        Code = "INITIATIVE_SCORE_INVALID"

	// Action economy errors
	CodeActionUnavailable Code = "ACTION_UNAVAILABLE"
	CodeActionInvalidKind Code = "ACTION_INVALID_KIND"
	CodeActionNotReserved Code = "ACTION_NOT_RESERVED"

	// Intent processing errors
	CodeIntentInvalid   Code = "INTENT_INVALID"
	CodeIntentWithdrawn Code = "INTENT_WITHDRAWN"
	CodeConflict        Code = "CONFLICT"

	// Storage errors
	CodeNotFound      Code = "NOT_FOUND"
	CodeAlreadyExists Code = "ALREADY_EXISTS"

	// Journal errors
	CodeJournalCorrupt   Code = "JOURNAL_CORRUPT"
	CodeChecksumMismatch Code = "STATE_CHECKSUM_MISMATCH"

	// Infrastructure errors
	CodeInternal    Code = "INTERNAL"
	CodeUnavailable Code = "UNAVAILABLE"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, malformed input
	case CodeParticipantNameEmpty,
		CodeParticipantInvalidKind,
		CodePlaneOrderInvalid,
		CodeScoreInvalid,
		CodeActionInvalidKind,
		CodeIntentInvalid:
		return http.StatusBadRequest

	// Not found - resource doesn't exist
	case CodeNotFound:
		return http.StatusNotFound

	// Conflict - current state disallows the operation
	case CodeSessionEnded,
		CodeCombatNotBegun,
		CodeCombatAlreadyBegun,
		CodeParticipantExists,
		CodeParticipantIncapacitated,
		CodeInvalidPlane,
		CodeOutOfTurn,
		CodeInitiativeNotRolled,
		CodeActionUnavailable,
		CodeActionNotReserved,
		CodeIntentWithdrawn,
		CodeConflict,
		CodeAlreadyExists:
		return http.StatusConflict

	// Service unavailable - session closed or queue saturated
	case CodeUnavailable:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
