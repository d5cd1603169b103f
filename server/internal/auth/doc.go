// Package auth implements the bearer-token gate in front of imagedrop-server's
// protected endpoints.
//
// ExtractToken accepts "Bearer <token>" (scheme matched case-insensitively) or
// a bare "<token>"; any other header shape yields no candidate.
//
// Gate.Check maps a header to a Decision:
//
//	no or blank header           -> Unauthenticated (401)
//	no candidate / unknown token -> Forbidden (403)
//	known token                  -> Authenticated
//
// Gate.CheckMaster applies the same parsing against the master credential,
// which authorises the token reload endpoint and the event feed. While the master credential
// equals DefaultMasterToken every admin call is Forbidden.
//
// Gate.Middleware wraps an http.Handler; Gate.UnaryInterceptor and
// Gate.StreamInterceptor do the same for gRPC calls. Every attempt is logged
// with the client address and, on failure, the first five characters of the
// presented token.
package auth
