package api

// ErrorResponse is the body of every gate or input rejection.
type ErrorResponse struct {
	Error string `json:"error"`
}

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupRequest is the JSON body for POST /auth/signup. EncryptedPassword
// holds the plaintext once DecryptGate has opened the envelope around the
// whole body.
type SignupRequest struct {
	Email             string `json:"email"`
	EncryptedPassword string `json:"encryptedPassword"`
}

// AuthResponse is returned from login and signup.
type AuthResponse struct {
	Success      bool   `json:"success"`
	SessionToken string `json:"sessionToken,omitempty"`
	Message      string `json:"message"`
	Code         string `json:"code,omitempty"`
	Timestamp    string `json:"timestamp"`
}

// SessionTokenRequest is the JSON body for verify and logout.
type SessionTokenRequest struct {
	SessionToken string `json:"sessionToken"`
}

// VerifyResponse is returned from POST /auth/verify. Code is null for a
// valid session.
type VerifyResponse struct {
	Valid     bool    `json:"valid"`
	Message   string  `json:"message"`
	Code      *string `json:"code"`
	Reason    string  `json:"reason,omitempty"`
	Timestamp string  `json:"timestamp"`
}

// LogoutResponse is returned from POST /auth/logout.
type LogoutResponse struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// MeResponse is returned from GET /auth/me.
type MeResponse struct {
	Email     string `json:"email"`
	Client    string `json:"client,omitempty"`
	Timestamp string `json:"timestamp"`
}
