package handlers

import (
	"errors"
	"net/http"
	"strings"

	"vocalytics/internal/apperr"
	"vocalytics/internal/auth"
	"vocalytics/templates"
)

const signupSuccess = "User Added Successfully. Please check your email for the verification code and then log in."

func (a *App) loginPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.FromContext(r.Context()); ok {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	a.render(w, r, templates.LoginPage(a.nav(r), a.takeFlash(w, r), templates.AuthForm{}))
}

func (a *App) login(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.PostFormValue("email"))
	password := r.PostFormValue("password")
	form := templates.AuthForm{Email: email}

	if errs := auth.ValidateCredentials(email, password); !errs.Empty() {
		form.Errors = errs
		a.renderStatus(w, r, http.StatusBadRequest, templates.LoginPage(a.nav(r), templates.Flash{}, form))
		return
	}

	res, err := a.auth.Authenticate(r.Context(), email, password)
	if err != nil {
		if errors.Is(err, auth.ErrNotConfirmed) {
			a.setFlash(w, "error", apperr.Message(err))
			http.Redirect(w, r, templates.VerifyURL(email, ""), http.StatusSeeOther)
			return
		}
		a.logger.Info("login failed", "email", email, "error", err)
		a.renderStatus(w, r, apperr.Status(err), templates.LoginPage(a.nav(r), errorFlash(err), form))
		return
	}
	if res.Challenge != nil {
		a.logger.Info("login challenge required", "email", email, "challenge", res.Challenge.Name)
		a.setFlash(w, "error", apperr.Message(apperr.ErrAuthChallenge))
		http.Redirect(w, r, templates.VerifyURL(email, res.Challenge.Name), http.StatusSeeOther)
		return
	}

	maxAge := int(res.Tokens.ExpiresIn)
	if maxAge <= 0 {
		maxAge = 3600
	}
	a.setCookie(w, sessionCookie, res.Tokens.AccessToken, maxAge)
	a.logger.Info("login successful", "email", email)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (a *App) signupPage(w http.ResponseWriter, r *http.Request) {
	a.render(w, r, templates.SignupPage(a.nav(r), a.takeFlash(w, r), templates.AuthForm{}))
}

func (a *App) signup(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.PostFormValue("email"))
	password := r.PostFormValue("password")
	form := templates.AuthForm{Email: email}

	if errs := auth.ValidateCredentials(email, password); !errs.Empty() {
		form.Errors = errs
		a.renderStatus(w, r, http.StatusBadRequest, templates.SignupPage(a.nav(r), templates.Flash{}, form))
		return
	}
	if err := a.auth.SignUp(r.Context(), email, password); err != nil {
		a.logger.Info("sign up failed", "email", email, "error", err)
		a.renderStatus(w, r, apperr.Status(err), templates.SignupPage(a.nav(r), errorFlash(err), form))
		return
	}

	a.logger.Info("user signed up", "email", email)
	a.setFlash(w, "success", signupSuccess)
	http.Redirect(w, r, templates.VerifyURL(email, ""), http.StatusSeeOther)
}

func (a *App) verifyPage(w http.ResponseWriter, r *http.Request) {
	form := templates.VerifyForm{
		Email:         r.URL.Query().Get("email"),
		ChallengeName: r.URL.Query().Get("challengeName"),
	}
	a.render(w, r, templates.VerifyPage(a.nav(r), a.takeFlash(w, r), form))
}

func (a *App) verify(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.PostFormValue("email"))
	code := strings.TrimSpace(r.PostFormValue("code"))
	form := templates.VerifyForm{Email: email}

	if errs := auth.ValidateVerification(email, code); !errs.Empty() {
		form.Errors = errs
		a.renderStatus(w, r, http.StatusBadRequest, templates.VerifyPage(a.nav(r), templates.Flash{}, form))
		return
	}
	if err := a.auth.ConfirmSignUp(r.Context(), email, code); err != nil {
		a.logger.Info("verification failed", "email", email, "error", err)
		a.renderStatus(w, r, apperr.Status(err), templates.VerifyPage(a.nav(r), errorFlash(err), form))
		return
	}

	a.setFlash(w, "success", "Verification successful")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (a *App) logout(w http.ResponseWriter, r *http.Request) {
	if s, ok := auth.FromContext(r.Context()); ok {
		if err := a.auth.SignOut(r.Context(), s.AccessToken); err != nil {
			a.logger.Warn("sign out failed", "error", err)
		}
	}
	a.clearCookie(w, sessionCookie)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
