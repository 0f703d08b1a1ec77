package httpx

import (
	"net/http"

	"github.com/meridian-exim/meridian-exim/internal/shared"
)

// RespondError maps a domain error onto the failure envelope. Validation and
// bad identifiers map to 400, missing documents to 404, conflicts (duplicate
// number, confirmed document, quantity exceeded, linked entity) to 409, and
// anything else to 500.
func RespondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch shared.KindOf(err) {
	case shared.KindValidation:
		status = http.StatusBadRequest
	case shared.KindNotFound:
		status = http.StatusNotFound
	case shared.KindConflict:
		status = http.StatusConflict
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		// Internal details stay in the logs; the created-header-id and
		// derivation-id fields below are still surfaced for recovery.
		message = "internal error"
	}
	Fail(w, status, message, shared.FieldsOf(err))
}
