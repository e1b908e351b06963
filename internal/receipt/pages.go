package receipt

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/fintrack/internal/auth"
)

func (s *Server) renderAuthPage(w http.ResponseWriter, status int, signUp bool, email, errMsg string) {
	title := "Sign in"
	if signUp {
		title = "Sign up"
	}
	s.render(w, status, "login.html", map[string]any{
		"Title":  title,
		"SignUp": signUp,
		"Email":  email,
		"Error":  errMsg,
	})
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if user, _ := s.sessionUser(r); user != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.renderAuthPage(w, http.StatusOK, false, "", "")
}

func (s *Server) handleSignupPage(w http.ResponseWriter, r *http.Request) {
	if user, _ := s.sessionUser(r); user != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.renderAuthPage(w, http.StatusOK, true, "", "")
}

// handleLogin signs in and sets the session cookie
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	email := r.PostFormValue("email")
	session, user, err := s.auth.SignIn(r.Context(), email, r.PostFormValue("password"))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.renderAuthPage(w, http.StatusUnauthorized, false, email, "Invalid email or password.")
			return
		}
		slog.Error("Error signing in", "error", err)
		s.renderAuthPage(w, http.StatusInternalServerError, false, email, "Sign in failed. Please try again.")
		return
	}

	slog.Info("User signed in", "user", user.ID)
	s.setSessionCookie(w, session)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleSignup creates an account and signs it in straight away
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	email := r.PostFormValue("email")
	password := r.PostFormValue("password")

	if _, err := s.auth.SignUp(r.Context(), email, password); err != nil {
		var inputErr *auth.InputError
		switch {
		case errors.As(err, &inputErr):
			s.renderAuthPage(w, http.StatusBadRequest, true, email, inputErr.Message)
		case errors.Is(err, auth.ErrEmailTaken):
			s.renderAuthPage(w, http.StatusConflict, true, email, "An account with that email already exists.")
		default:
			slog.Error("Error signing up", "error", err)
			s.renderAuthPage(w, http.StatusInternalServerError, true, email, "Sign up failed. Please try again.")
		}
		return
	}

	session, _, err := s.auth.SignIn(r.Context(), email, password)
	if err != nil {
		slog.Error("Error signing in after sign up", "error", err)
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	s.setSessionCookie(w, session)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleLogout ends the session and drops its draft
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		if err := s.auth.SignOut(r.Context(), cookie.Value); err != nil {
			slog.Error("Error signing out", "error", err)
		}
		s.drafts.Delete(cookie.Value)
	}
	s.clearSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "home.html", map[string]any{
		"Title": "FinTrack",
		"User":  currentUser(r),
	})
}

// handleDashboard always reloads from the store; the page must never be served from cache
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	user := currentUser(r)

	data := map[string]any{
		"Title":  "Dashboard",
		"User":   user,
		"Notice": "",
	}
	if r.URL.Query().Get("added") != "" {
		data["Notice"] = "Receipt added successfully."
	}

	summary, err := s.service.Dashboard(r.Context(), user.ID)
	if err != nil {
		slog.Error("Error loading dashboard", "owner", user.ID, "error", err)
		data["Error"] = "Failed to load receipts."
		s.render(w, http.StatusInternalServerError, "dashboard.html", data)
		return
	}
	data["Summary"] = summary
	data["Chart"] = buildChart(summary.Series)
	s.render(w, http.StatusOK, "dashboard.html", data)
}

func (s *Server) renderDraft(w http.ResponseWriter, r *http.Request, status int, d *Draft, errMsg string) {
	s.render(w, status, "add_receipt.html", map[string]any{
		"Title": "Add receipt",
		"User":  currentUser(r),
		"Draft": d,
		"Error": errMsg,
	})
}

func (s *Server) handleNewReceipt(w http.ResponseWriter, r *http.Request) {
	s.drafts.With(sessionToken(r.Context()), func(d *Draft) {
		s.renderDraft(w, r, http.StatusOK, d, "")
	})
}

// handleDraftUpload runs extraction on the uploaded image and moves the draft to review
func (s *Server) handleDraftUpload(w http.ResponseWriter, r *http.Request) {
	s.drafts.With(sessionToken(r.Context()), func(d *Draft) {
		if d.Step != StepUpload {
			http.Redirect(w, r, "/receipts/new", http.StatusSeeOther)
			return
		}
		if uerr := parseUploadForm(w, r); uerr != nil {
			s.renderDraft(w, r, uerr.status, d, uerr.message)
			return
		}
		img, uerr := formImage(r, "file")
		if uerr != nil {
			s.renderDraft(w, r, uerr.status, d, uerr.message)
			return
		}

		if err := s.service.Extract(r.Context(), d, img); err != nil {
			slog.Error("Error processing receipt", "filename", img.Filename, "error", err)
			s.renderDraft(w, r, http.StatusUnprocessableEntity, d, msgProcessingFailed)
			return
		}
		http.Redirect(w, r, "/receipts/new", http.StatusSeeOther)
	})
}

// handleDraftEdit applies the edit form and then performs the requested action
func (s *Server) handleDraftEdit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}
	action := r.PostFormValue("action")

	s.drafts.With(sessionToken(r.Context()), func(d *Draft) {
		if action == "edit" {
			if err := d.Edit(); err != nil {
				slog.Debug("Ignoring edit request", "error", err)
			}
			http.Redirect(w, r, "/receipts/new", http.StatusSeeOther)
			return
		}
		if d.Step != StepEdit {
			http.Redirect(w, r, "/receipts/new", http.StatusSeeOther)
			return
		}

		if msg := applyEditForm(d, r.PostForm); msg != "" {
			s.renderDraft(w, r, http.StatusUnprocessableEntity, d, msg)
			return
		}

		switch {
		case action == "save":
			if err := d.Review(); err != nil {
				slog.Debug("Ignoring save request", "error", err)
			}
			s.service.CheckDraft(d)
		case action == "add":
			d.AddItem()
		case action == "submit":
			s.submitDraft(w, r, d)
			return
		case strings.HasPrefix(action, "remove:"):
			i, err := strconv.Atoi(strings.TrimPrefix(action, "remove:"))
			if err != nil || d.RemoveItem(i) != nil {
				s.renderDraft(w, r, http.StatusUnprocessableEntity, d, "That item no longer exists.")
				return
			}
		}
		http.Redirect(w, r, "/receipts/new", http.StatusSeeOther)
	})
}

// handleDraftSubmit persists the reviewed draft
func (s *Server) handleDraftSubmit(w http.ResponseWriter, r *http.Request) {
	s.drafts.With(sessionToken(r.Context()), func(d *Draft) {
		if d.Step == StepUpload {
			http.Redirect(w, r, "/receipts/new", http.StatusSeeOther)
			return
		}
		s.submitDraft(w, r, d)
	})
}

func (s *Server) submitDraft(w http.ResponseWriter, r *http.Request, d *Draft) {
	user := currentUser(r)
	if _, err := s.service.SubmitDraft(r.Context(), user.ID, d); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			s.renderDraft(w, r, http.StatusUnprocessableEntity, d, verr.Error())
			return
		}
		slog.Error("Error adding receipt", "owner", user.ID, "error", err)
		s.renderDraft(w, r, http.StatusInternalServerError, d, msgSubmitFailed)
		return
	}
	http.Redirect(w, r, "/dashboard?added=1", http.StatusSeeOther)
}

func (s *Server) handleDraftReset(w http.ResponseWriter, r *http.Request) {
	s.drafts.With(sessionToken(r.Context()), func(d *Draft) {
		d.Reset()
	})
	http.Redirect(w, r, "/receipts/new", http.StatusSeeOther)
}

// applyEditForm parses every field first and only then mutates the draft,
// so a bad value leaves the draft unchanged. It returns a user-facing
// message, or "" on success.
func applyEditForm(d *Draft, form url.Values) string {
	date, err := ParseDate(form.Get("date"))
	if err != nil {
		return "Date must be in YYYY-MM-DD format."
	}
	total, err := parseAmount(form.Get("total_amount"))
	if err != nil {
		return "Total amount must be a number."
	}

	names := form["item_name"]
	quantities := form["item_quantity"]
	prices := form["item_price"]
	if len(names) != len(d.Receipt.Items) || len(quantities) != len(names) || len(prices) != len(names) {
		return "The form is out of date. Please try again."
	}

	items := make([]LineItem, len(names))
	for i := range names {
		qty, err := strconv.Atoi(strings.TrimSpace(quantities[i]))
		if err != nil {
			return fmt.Sprintf("Item %d quantity must be a whole number.", i+1)
		}
		price, err := parseAmount(prices[i])
		if err != nil {
			return fmt.Sprintf("Item %d price must be a number.", i+1)
		}
		items[i] = LineItem{Name: strings.TrimSpace(names[i]), Quantity: qty, Price: price}
	}

	d.SetMerchant(strings.TrimSpace(form.Get("merchant")))
	d.SetDate(date)
	d.SetTotal(total)
	for i, item := range items {
		if err := d.UpdateItem(i, item); err != nil {
			return "The form is out of date. Please try again."
		}
	}
	return ""
}

// parseAmount accepts "12.34", "$12.34" and "" (zero)
func parseAmount(value string) (decimal.Decimal, error) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "$")
	if value == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(value)
}

type chartBar struct {
	X, Y, Width, Height float64
	Label               string
	Amount              string
}

type chart struct {
	Width, Height float64
	Bars          []chartBar
}

// buildChart lays out one SVG bar per series point, scaled to the largest amount
func buildChart(series []ChartPoint) chart {
	const (
		width  = 640.0
		height = 220.0
		gap    = 4.0
	)
	c := chart{Width: width, Height: height}
	if len(series) == 0 {
		return c
	}

	largest := decimal.Zero
	for _, p := range series {
		if p.Amount.GreaterThan(largest) {
			largest = p.Amount
		}
	}

	slot := width / float64(len(series))
	barWidth := max(slot-gap, 1)
	for i, p := range series {
		h := 0.0
		if largest.IsPositive() {
			h = p.Amount.Div(largest).InexactFloat64() * (height - 10)
		}
		c.Bars = append(c.Bars, chartBar{
			X:      float64(i) * slot,
			Y:      height - h,
			Width:  barWidth,
			Height: h,
			Label:  p.Date.Format("Jan 2, 2006"),
			Amount: "$" + p.Amount.StringFixed(2),
		})
	}
	return c
}
