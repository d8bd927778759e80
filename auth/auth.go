// Package auth coordinates credential checks, session issuance, session
// verification and logout.
//
// Every operation returns a terminal result rather than an error: collaborator
// failures are logged here and reduced to a Code the transport layer can map
// to a response.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jmcleod/sessiongate/identity"
	"github.com/jmcleod/sessiongate/internal/util"
	"github.com/jmcleod/sessiongate/password"
	"github.com/jmcleod/sessiongate/session"
)

// Code identifies the outcome of a failed operation.
type Code string

const (
	CodeMissingInformation Code = "MISSING_INFORMATION"
	CodeEmailNotFound      Code = "EMAIL_NOT_FOUND"
	CodeIncorrectPassword  Code = "INCORRECT_PASSWORD"
	CodeEmailAlreadyExists Code = "EMAIL_ALREADY_EXISTS"
	CodeDatabaseError      Code = "DATABASE_ERROR"
	CodeInternalError      Code = "INTERNAL_ERROR"
	CodeSessionExpired     Code = "SESSION_EXPIRED"
	CodeSessionInvalid     Code = "SESSION_INVALID"
)

const (
	MsgMissingInformation = "Email and password are required"
	MsgEmailNotFound      = "Email not found"
	MsgIncorrectPassword  = "Password is incorrect"
	MsgEmailAlreadyExists = "Email already exists"
	MsgLoginSuccess       = "Login successful"
	MsgSignupSuccess      = "Signup successful"
	MsgInternalError      = "Internal server error"

	MsgSessionValid   = "Session is valid"
	MsgSessionExpired = "Session has expired"
	MsgSessionInvalid = "Session is invalid"
	MsgLogoutSuccess  = "Logout successful"
)

// Outcome is the result of Login or Signup. SessionToken is set only on
// success; Code only on failure.
type Outcome struct {
	Success      bool
	SessionToken string
	Message      string
	Code         Code
}

func fail(code Code, msg string) Outcome {
	return Outcome{Code: code, Message: msg}
}

// Verification is the result of VerifySession.
type Verification struct {
	Valid   bool
	Expired bool
	Code    Code
	Message string
}

// Coordinator implements the authentication operations. It holds no state of
// its own between requests.
type Coordinator struct {
	users    identity.Store
	hasher   password.Hasher
	sessions *session.Store
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewCoordinator wires the collaborators. A non-positive ttl selects
// session.DefaultTTL.
func NewCoordinator(users identity.Store, hasher password.Hasher, sessions *session.Store, ttl time.Duration, logger *slog.Logger) *Coordinator {
	if ttl <= 0 {
		ttl = session.DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		users:    users,
		hasher:   hasher,
		sessions: sessions,
		ttl:      ttl,
		logger:   logger.With("component", "auth"),
		now:      time.Now,
	}
}

// SessionTTL returns the lifetime given to new sessions.
func (c *Coordinator) SessionTTL() time.Duration {
	return c.ttl
}

// Login checks email and password and issues a session on success.
func (c *Coordinator) Login(ctx context.Context, email, password string) Outcome {
	email = util.NormalizeEmail(email)
	if email == "" || password == "" {
		return fail(CodeMissingInformation, MsgMissingInformation)
	}

	user, err := c.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return fail(CodeEmailNotFound, MsgEmailNotFound)
		}
		c.logger.Error("identity lookup failed", "op", "login", "error", err)
		return fail(CodeDatabaseError, MsgInternalError)
	}

	if !c.hasher.Compare(password, user.HashedPassword) {
		return fail(CodeIncorrectPassword, MsgIncorrectPassword)
	}
	return c.issueSession(ctx, user.Email, MsgLoginSuccess)
}

// Signup registers a new identity and issues a session for it. password is
// the plaintext, already decrypted by the transport.
func (c *Coordinator) Signup(ctx context.Context, email, password string) Outcome {
	email = util.NormalizeEmail(email)
	if email == "" || password == "" {
		return fail(CodeMissingInformation, MsgMissingInformation)
	}

	_, err := c.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return fail(CodeEmailAlreadyExists, MsgEmailAlreadyExists)
	case !errors.Is(err, identity.ErrNotFound):
		c.logger.Error("identity lookup failed", "op", "signup", "error", err)
		return fail(CodeDatabaseError, MsgInternalError)
	}

	hash, err := c.hasher.Hash(password)
	if err != nil {
		c.logger.Error("hashing password failed", "error", err)
		return fail(CodeInternalError, MsgInternalError)
	}
	if err := c.users.CreateUser(ctx, email, hash); err != nil {
		if errors.Is(err, identity.ErrAlreadyExists) {
			return fail(CodeEmailAlreadyExists, MsgEmailAlreadyExists)
		}
		c.logger.Error("creating identity failed", "error", err)
		return fail(CodeDatabaseError, MsgInternalError)
	}
	return c.issueSession(ctx, email, MsgSignupSuccess)
}

// issueSession is the tail shared by Login and Signup.
func (c *Coordinator) issueSession(ctx context.Context, email, successMsg string) Outcome {
	token, err := session.NewToken()
	if err != nil {
		c.logger.Error("generating session token failed", "error", err)
		return fail(CodeInternalError, MsgInternalError)
	}
	rec := session.Record{Email: email, CreatedAt: c.now().UTC()}
	if err := c.sessions.StoreSession(ctx, token, rec, c.ttl); err != nil {
		c.logger.Error("storing session failed", "error", err)
		return fail(CodeDatabaseError, MsgInternalError)
	}
	return Outcome{Success: true, SessionToken: token, Message: successMsg}
}

// VerifySession reports whether token is valid, expired or invalid. Store
// failures yield DATABASE_ERROR; the caller is never handed an error.
func (c *Coordinator) VerifySession(ctx context.Context, token string) Verification {
	if token == "" {
		return Verification{Code: CodeSessionInvalid, Message: MsgSessionInvalid}
	}
	st, err := c.sessions.CheckSessionStatus(ctx, token)
	if err != nil {
		c.logger.Error("checking session failed", "error", err)
		return Verification{Code: CodeDatabaseError, Message: MsgInternalError}
	}
	switch st {
	case session.Valid:
		return Verification{Valid: true, Message: MsgSessionValid}
	case session.Expired:
		return Verification{Expired: true, Code: CodeSessionExpired, Message: MsgSessionExpired}
	default:
		return Verification{Code: CodeSessionInvalid, Message: MsgSessionInvalid}
	}
}

// Logout deletes the session. It always succeeds from the caller's point of
// view; an absent session is a no-op and store failures are only logged.
func (c *Coordinator) Logout(ctx context.Context, token string) {
	if token == "" {
		return
	}
	if err := c.sessions.DeleteSession(ctx, token); err != nil {
		c.logger.Warn("deleting session failed", "error", err)
	}
}

// IdentityFromSession returns the email recorded in the primary session
// record. Absence, store errors and undecodable records all report false.
func (c *Coordinator) IdentityFromSession(ctx context.Context, token string) (string, bool) {
	if token == "" {
		return "", false
	}
	var rec session.Record
	if err := c.sessions.GetSession(ctx, token, &rec); err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			c.logger.Warn("reading session failed", "error", err)
		}
		return "", false
	}
	if rec.Email == "" {
		return "", false
	}
	return rec.Email, true
}
