package www

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"
)

const (
	sessionName    = "repairedge_session"
	operatorKey    = "operator"
	minPasswordLen = 6
)

var errShortPassword = errors.New("password must be at least 6 characters")

type ctxKey struct{}

// withOperator records the logged-in operator on the request context.
func withOperator(r *http.Request, username string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), ctxKey{}, username))
}

func operatorFrom(r *http.Request) string {
	u, _ := r.Context().Value(ctxKey{}).(string)
	return u
}

type sessionStore struct {
	store *sessions.CookieStore
}

// newSessionStore keys the cookie store with the base64 secret from config,
// or a random per-process key when none is configured.
func newSessionStore(secret string) *sessionStore {
	var key []byte
	if secret != "" {
		key, _ = base64.StdEncoding.DecodeString(secret)
	}
	if len(key) < 32 {
		key = make([]byte, 32)
		rand.Read(key)
	}
	cs := sessions.NewCookieStore(key)
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   12 * 60 * 60, // one shift
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &sessionStore{store: cs}
}

func (s *sessionStore) get(r *http.Request) *sessions.Session {
	sess, _ := s.store.Get(r, sessionName)
	return sess
}

func (s *sessionStore) operator(r *http.Request) string {
	u, _ := s.get(r).Values[operatorKey].(string)
	return u
}

func (s *sessionStore) setOperator(w http.ResponseWriter, r *http.Request, username string) error {
	sess := s.get(r)
	sess.Values[operatorKey] = username
	return sess.Save(r, w)
}

func (s *sessionStore) clear(w http.ResponseWriter, r *http.Request) {
	sess := s.get(r)
	delete(sess.Values, operatorKey)
	sess.Options.MaxAge = -1
	sess.Save(r, w)
}

func checkPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func hashPassword(password string) (string, error) {
	if len(password) < minPasswordLen {
		return "", errShortPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}
