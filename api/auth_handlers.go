package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmcleod/sessiongate/auth"
)

const (
	reasonExpired = "expired"
	reasonInvalid = "invalid"
)

// decodeJSON parses the (already size-limited, possibly decrypted) request
// body into T. It writes a 400 and returns false on failure.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return v, false
	}
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
			return v, false
		}
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return v, false
	}
	return v, true
}

func (a *API) writeOutcome(w http.ResponseWriter, out auth.Outcome) {
	writeJSON(w, statusFor(out.Code), AuthResponse{
		Success:      out.Success,
		SessionToken: out.SessionToken,
		Message:      out.Message,
		Code:         string(out.Code),
		Timestamp:    a.timestamp(),
	})
}

// Login handles POST /auth/login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r)
	if !ok {
		return
	}

	ctx, cancel := a.withTimeout(r.Context())
	defer cancel()
	out := a.coord.Login(ctx, req.Email, req.Password)

	client := slog.String("client", ClientNameFromContext(r.Context()))
	if out.Success {
		a.audit.log(AuditLoginSuccess, r, client)
	} else {
		a.audit.logFailure(AuditLoginFailure, r, string(out.Code), client)
	}
	a.writeOutcome(w, out)
}

// Signup handles POST /auth/signup.
func (a *API) Signup(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[SignupRequest](w, r)
	if !ok {
		return
	}

	ctx, cancel := a.withTimeout(r.Context())
	defer cancel()
	out := a.coord.Signup(ctx, req.Email, req.EncryptedPassword)

	client := slog.String("client", ClientNameFromContext(r.Context()))
	if out.Success {
		a.audit.log(AuditSignup, r, client)
	} else {
		a.audit.logFailure(AuditSignupFailure, r, string(out.Code), client)
	}
	a.writeOutcome(w, out)
}

// Verify handles POST /auth/verify.
func (a *API) Verify(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[SessionTokenRequest](w, r)
	if !ok {
		return
	}

	ctx, cancel := a.withTimeout(r.Context())
	defer cancel()
	v := a.coord.VerifySession(ctx, req.SessionToken)

	resp := VerifyResponse{
		Valid:     v.Valid,
		Message:   v.Message,
		Timestamp: a.timestamp(),
	}
	if v.Code != "" {
		code := string(v.Code)
		resp.Code = &code
	}
	switch v.Code {
	case auth.CodeSessionExpired:
		resp.Reason = reasonExpired
	case auth.CodeSessionInvalid:
		resp.Reason = reasonInvalid
	}
	writeJSON(w, statusFor(v.Code), resp)
}

// Logout handles POST /auth/logout. It always reports success.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[SessionTokenRequest](w, r)
	if !ok {
		return
	}

	ctx, cancel := a.withTimeout(r.Context())
	defer cancel()
	a.coord.Logout(ctx, req.SessionToken)

	a.audit.log(AuditLogout, r, slog.String("client", ClientNameFromContext(r.Context())))
	writeJSON(w, http.StatusOK, LogoutResponse{
		Message:   auth.MsgLogoutSuccess,
		Timestamp: a.timestamp(),
	})
}

// Me handles GET /auth/me, resolving the X-Session-Token header to the
// session's identity.
func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(SessionTokenHeader)

	ctx, cancel := a.withTimeout(r.Context())
	defer cancel()
	email, ok := a.coord.IdentityFromSession(ctx, token)
	if !ok {
		writeError(w, http.StatusUnauthorized, msgInvalidSession)
		return
	}
	writeJSON(w, http.StatusOK, MeResponse{
		Email:     email,
		Client:    ClientNameFromContext(r.Context()),
		Timestamp: a.timestamp(),
	})
}
