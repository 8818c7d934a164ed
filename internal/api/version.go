package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/triage-io/triage/internal/apperr"
)

// Service and API versions. Clients send their expected API version in
// the X-Api-Version header; a major mismatch is rejected so an old client
// never misreads a changed payload.
const (
	Version         = "1.0.0"
	APIVersionMajor = 1
	APIVersionMinor = 0
)

// APIVersion is the full "major.minor" handshake string.
func APIVersion() string {
	return fmt.Sprintf("%d.%d", APIVersionMajor, APIVersionMinor)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, VersionResponse{
		Version:    Version,
		APIVersion: APIVersion(),
	})
}

// checkAPIVersion rejects requests whose declared API version is
// incompatible. Requests without the header pass; the handshake is
// opt-in for ad-hoc callers.
func (s *Server) checkAPIVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		declared := strings.TrimSpace(r.Header.Get("X-Api-Version"))
		if declared == "" {
			next.ServeHTTP(w, r)

			return
		}

		major, ok := parseMajor(declared)
		if !ok || major != APIVersionMajor {
			problem := NewProblemDetail(http.StatusBadRequest, "API Version Mismatch",
				fmt.Sprintf("client speaks API %q, server speaks %s", declared, APIVersion()))
			problem.Code = apperr.KindAPIMismatch.String()

			WriteErrorResponse(w, r, s.logger, problem)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func parseMajor(version string) (int, bool) {
	majorText, _, _ := strings.Cut(version, ".")

	major, err := strconv.Atoi(majorText)
	if err != nil {
		return 0, false
	}

	return major, true
}
