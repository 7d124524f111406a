package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const authCookie = "jobtrack-auth"

// credentials is the request body for login and registration
type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleLogin validates credentials, creates a session and loads the user's
// collection store
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if creds.Email == "" || creds.Password == "" {
		s.writeJSONError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := s.users.GetUserByEmail(r.Context(), creds.Email)
	if err != nil {
		// same response as a wrong password, don't confirm account existence
		s.writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)); err != nil {
		s.writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token := uuid.New().String()
	s.sessionsMu.Lock()
	s.sessions[token] = session{userID: user.ID, createdAt: time.Now()}
	s.sessionsMu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.loginTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
	})

	// identity became available, bring up the session store
	if _, err := s.storeFor(r.Context(), user.ID); err != nil {
		log.Printf("[WARN] %v", err)
	}

	log.Printf("[INFO] user %s logged in", user.Email)
	s.writeJSON(w, http.StatusOK, map[string]string{"user_id": user.ID})
}

// handleRegister creates a new account and logs it in
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if creds.Email == "" || len(creds.Password) < 8 {
		s.writeJSONError(w, http.StatusBadRequest, "email and a password of at least 8 characters are required")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("[ERROR] failed to hash password: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	user, err := s.users.CreateUser(r.Context(), creds.Email, string(hash))
	if err != nil {
		log.Printf("[WARN] failed to create user %s: %v", creds.Email, err)
		s.writeJSONError(w, http.StatusConflict, "registration failed")
		return
	}

	log.Printf("[INFO] registered user %s", user.Email)
	s.writeJSON(w, http.StatusCreated, map[string]string{"user_id": user.ID})
}

// handleLogout drops the session and tears down the user's store
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(authCookie); err == nil {
		s.sessionsMu.Lock()
		sess, ok := s.sessions[cookie.Value]
		delete(s.sessions, cookie.Value)
		s.sessionsMu.Unlock()

		if ok {
			s.dropStore(sess.userID)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1, // delete cookie
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
	})

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// authMiddleware resolves the user from the session cookie or falls back to
// basic auth for API clients, and passes the user id down via context
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID, ok := s.userFromCookie(r); ok {
			next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
			return
		}

		if email, password, ok := r.BasicAuth(); ok {
			user, err := s.users.GetUserByEmail(r.Context(), email)
			if err == nil && bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil {
				next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), user.ID)))
				return
			}
		}

		w.Header().Set("WWW-Authenticate", `Basic realm="jobtrack"`)
		s.writeJSONError(w, http.StatusUnauthorized, "unauthorized")
	})
}

// userFromCookie validates the session cookie and returns the user id.
// An expired session is evicted, and when it was the user's last one the
// session store is torn down as well, same as an explicit logout.
func (s *Server) userFromCookie(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(authCookie)
	if err != nil {
		return "", false
	}

	s.sessionsMu.Lock()
	sess, ok := s.sessions[cookie.Value]
	if !ok {
		s.sessionsMu.Unlock()
		return "", false
	}
	if time.Since(sess.createdAt) > s.loginTTL {
		delete(s.sessions, cookie.Value)
		last := true
		for _, other := range s.sessions {
			if other.userID == sess.userID {
				last = false
				break
			}
		}
		s.sessionsMu.Unlock()
		if last {
			s.dropStore(sess.userID)
		}
		return "", false
	}
	s.sessionsMu.Unlock()
	return sess.userID, true
}

type ctxKey string

const userIDKey ctxKey = "user-id"

func withUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// userID extracts the authenticated user id from the request context
func userID(r *http.Request) string {
	if v, ok := r.Context().Value(userIDKey).(string); ok {
		return v
	}
	return ""
}
