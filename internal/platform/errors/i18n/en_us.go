package i18n

// Error codes must match the codes defined in internal/platform/errors/codes.go.
// These are duplicated as strings to avoid an import cycle.
const (
	CodeUnknown                  = "UNKNOWN"
	CodeSessionEnded             = "SESSION_ENDED"
	CodeCombatNotBegun           = "COMBAT_NOT_BEGUN"
	CodeCombatAlreadyBegun       = "COMBAT_ALREADY_BEGUN"
	CodePlaneOrderInvalid        = "PLANE_ORDER_INVALID"
	CodeParticipantNameEmpty     = "PARTICIPANT_NAME_EMPTY"
	CodeParticipantInvalidKind   = "PARTICIPANT_INVALID_KIND"
	CodeParticipantExists        = "PARTICIPANT_ALREADY_EXISTS"
	CodeParticipantIncapacitated = "PARTICIPANT_INCAPACITATED"
	CodeInvalidPlane             = "INVALID_PLANE"
	CodeOutOfTurn                = "OUT_OF_TURN"
	CodeInitiativeNotRolled      = "INITIATIVE_NOT_ROLLED"
	CodeScoreInvalid             = "INITIATIVE_SCORE_INVALID"
	CodeActionUnavailable        = "ACTION_UNAVAILABLE"
	CodeActionInvalidKind        = "ACTION_INVALID_KIND"
	CodeActionNotReserved        = "ACTION_NOT_RESERVED"
	CodeIntentInvalid            = "INTENT_INVALID"
	CodeIntentWithdrawn          = "INTENT_WITHDRAWN"
	CodeConflict                 = "CONFLICT"
	CodeNotFound                 = "NOT_FOUND"
	CodeAlreadyExists            = "ALREADY_EXISTS"
	CodeJournalCorrupt           = "JOURNAL_CORRUPT"
	CodeChecksumMismatch         = "STATE_CHECKSUM_MISMATCH"
	CodeInternal                 = "INTERNAL"
	CodeUnavailable              = "UNAVAILABLE"
)

var enUSCatalog = &Catalog{
	locale: "en-US",
	messages: map[Code]string{
		CodeUnknown: "An unexpected error occurred",

		// Session errors
		CodeSessionEnded:       "This combat session has ended",
		CodeCombatNotBegun:     "Combat has not begun yet",
		CodeCombatAlreadyBegun: "Combat has already begun",
		CodePlaneOrderInvalid:  "Plane order must list each plane exactly once",

		// Participant errors
		CodeParticipantNameEmpty:     "Participant name cannot be empty",
		CodeParticipantInvalidKind:   "Invalid participant kind specified",
		CodeParticipantExists:        "A participant with this identifier already exists",
		CodeParticipantIncapacitated: "{{.Name}} is incapacitated and cannot act",

		// Initiative/turn errors
		CodeInvalidPlane:        "{{.Name}} has no presence in the {{.Plane}} plane",
		CodeOutOfTurn:           "It is not {{.Name}}'s turn to act",
		CodeInitiativeNotRolled: "{{.Name}} has not rolled initiative for the {{.Plane}} plane",
		CodeScoreInvalid:        "Initiative score must be non-negative",

		// Action economy errors
		CodeActionUnavailable: "No {{.Kind}} action remains this turn",
		CodeActionInvalidKind: "Unknown action kind {{.Kind}}",
		CodeActionNotReserved: "{{.Name}} has no reserved action to exercise",

		// Intent processing errors
		CodeIntentInvalid:   "The submitted intent could not be understood",
		CodeIntentWithdrawn: "The intent was withdrawn before it was applied",
		CodeConflict:        "Idempotency token was reused with a different payload",

		// Storage errors
		CodeNotFound:      "The requested resource was not found",
		CodeAlreadyExists: "The resource already exists",

		// Journal errors
		CodeJournalCorrupt:   "The event journal failed integrity verification",
		CodeChecksumMismatch: "Replayed state does not match the recorded checksum",

		// Infrastructure errors
		CodeInternal:    "An internal error occurred",
		CodeUnavailable: "The combat session is not accepting intents right now",
	},
}
