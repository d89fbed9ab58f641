package account

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/billingd/core"
	"github.com/dmitrymomot/billingd/pkg/billing"
	"github.com/dmitrymomot/billingd/pkg/jwt"
)

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Router mounts the account endpoints. The auth middleware guards /me only;
// signup and login are public by nature.
func Router(svc *Service, authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Post("/signup", handleSignup(svc))
	r.Post("/login", handleLogin(svc))

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/me", handleProfile(svc))
	})

	return r
}

func handleSignup(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req signupRequest
		if err := core.DecodeJSON(r, &req); err != nil {
			core.JSONError(w, err)
			return
		}
		if details := validateSignup(req); len(details) > 0 {
			core.JSONValidationError(w, details)
			return
		}

		result, err := svc.Signup(r.Context(), req.Name, req.Email, req.Phone, req.Password)
		if err != nil {
			core.JSONError(w, mapAccountError(err))
			return
		}
		core.JSON(w, http.StatusCreated, result)
	}
}

func handleLogin(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := core.DecodeJSON(r, &req); err != nil {
			core.JSONError(w, err)
			return
		}
		if req.Email == "" || req.Password == "" {
			core.JSONError(w, core.ErrBadRequest.WithMessage("email and password are required"))
			return
		}

		result, err := svc.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			core.JSONError(w, mapAccountError(err))
			return
		}
		core.JSON(w, http.StatusOK, result)
	}
}

func handleProfile(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := jwt.GetClaimsFromContext[TokenClaims](r.Context())
		if !ok {
			core.JSONError(w, core.ErrUnauthorized)
			return
		}

		user, err := svc.Profile(r.Context(), claims.UserID)
		if err != nil {
			core.JSONError(w, mapAccountError(err))
			return
		}
		core.JSON(w, http.StatusOK, user)
	}
}

func validateSignup(req signupRequest) map[string][]string {
	details := make(map[string][]string)
	if req.Name == "" {
		details["name"] = append(details["name"], "name is required")
	}
	if req.Email == "" {
		details["email"] = append(details["email"], "email is required")
	}
	if len(req.Password) < 8 {
		details["password"] = append(details["password"], "password must be at least 8 characters")
	}
	return details
}

func mapAccountError(err error) error {
	switch {
	case errors.Is(err, billing.ErrEmailTaken):
		return core.ErrConflict.WithMessage("email is already registered")
	case errors.Is(err, ErrInvalidCredentials):
		return core.ErrUnauthorized.WithMessage(err.Error())
	case errors.Is(err, ErrWeakPassword):
		return core.ErrUnprocessableEntity.WithMessage(err.Error())
	case errors.Is(err, billing.ErrUserNotFound):
		return core.ErrNotFound
	default:
		return err
	}
}
