package token

import (
	"errors"
	"strings"

	"golang.org/x/oauth2"
)

// permanentMarkers are OAuth error responses that mean the refresh token
// itself is dead. Retrying cannot help; the account must re-authorize.
var permanentMarkers = []string{
	"invalid_grant",
	"invalid_client",
	"unauthorized_client",
	"token has been expired or revoked",
	"revoked",
}

// isPermanentRefreshError classifies a refresh failure.
//
// An *oauth2.RetrieveError with a well-known error code is checked
// structurally; anything else falls back to message matching, since some
// token endpoints return bare bodies rather than RFC 6749 error JSON.
func isPermanentRefreshError(err error) bool {
	if err == nil {
		return false
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		code := strings.ToLower(retrieveErr.ErrorCode)
		for _, marker := range permanentMarkers {
			if code == marker {
				return true
			}
		}
		// A 4xx token response without a recognized code is still not
		// retryable network weather; inspect the body markers below.
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
