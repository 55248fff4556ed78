package httpapi

import (
	"net/http"
	"sort"
	"strings"

	"babygpt/internal/analytics"
	"babygpt/internal/logging"
	"babygpt/internal/plans"
	"babygpt/internal/signup"
)

// handleLanding 渲染落地页；cookie、已选套餐和 URL 参数由 Bridge 合并
func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sid := getSIDFromContext(ctx)
	log := s.requestLog(r)
	s.tracker.Track(analytics.LandingPageViewed, "")

	in := signup.PageLoad{Query: r.URL.Query()}
	if c, err := r.Cookie(signup.ProfileCookieName); err == nil {
		in.ProfileCookie = c.Value
	}
	storedPlan, err := s.states.StoredPlan(ctx, sid)
	if err != nil {
		log.Warn().Err(err).Msg("reading stored plan failed")
	}
	in.StoredPlan = storedPlan

	out := s.bridge.Reconcile(ctx, in)
	st, err := s.wizard.Restore(ctx, sid, out)
	if err != nil {
		log.Warn().Err(err).Msg("restoring wizard state failed")
		st = signup.NewState()
		st.Profile = out.Profile
		st.SelectedPlan = out.Plan
		st.Error = out.AuthError
		st.Open = out.OpenSignup || out.AuthError != ""
		if out.ForceDetails {
			st.Step = signup.StepDetails
		}
	}

	s.render(w, r, s.pages.landing, landingData{
		Plans:            s.catalog.Plans(),
		State:            st,
		Authenticated:    getUserIDFromContext(ctx) != 0,
		RecaptchaSiteKey: s.cfg.RecaptchaSiteKey,
		Providers:        s.providerNames(),
	})
}

func (s *Server) providerNames() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) backToLanding(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleSignupOpen(w http.ResponseWriter, r *http.Request) {
	if _, err := s.wizard.Open(r.Context(), getSIDFromContext(r.Context())); err != nil {
		s.respondServiceErrorWithContext(w, r, err, "open_signup")
		return
	}
	s.backToLanding(w, r)
}

func (s *Server) handleSelectPlan(w http.ResponseWriter, r *http.Request) {
	sel, err := s.catalog.Select(plans.Interval(r.FormValue("interval")))
	if err != nil {
		s.requestLog(r).Warn().Err(err).Msg("invalid plan selection")
		s.backToLanding(w, r)
		return
	}
	if _, err := s.wizard.SelectPlan(r.Context(), getSIDFromContext(r.Context()), sel); err != nil {
		s.respondServiceErrorWithContext(w, r, err, "select_plan")
		return
	}
	s.backToLanding(w, r)
}

// handleSignupClose 关闭弹窗，清除已选套餐
func (s *Server) handleSignupClose(w http.ResponseWriter, r *http.Request) {
	if err := s.wizard.Reset(r.Context(), getSIDFromContext(r.Context())); err != nil {
		s.respondServiceErrorWithContext(w, r, err, "close_signup")
		return
	}
	s.backToLanding(w, r)
}

func (s *Server) handleSignupEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, id, err := s.wizard.SubmitEmail(ctx, getSIDFromContext(ctx), signup.EmailInput{
		Email:    r.FormValue("email"),
		Password: r.FormValue("password"),
		BotToken: r.FormValue("g-recaptcha-response"),
	})
	if err != nil {
		s.respondServiceErrorWithContext(w, r, err, "submit_email")
		return
	}
	if id != nil {
		if err := s.completeSignIn(w, r, *id); err != nil {
			s.respondServiceErrorWithContext(w, r, err, "complete_sign_in")
			return
		}
		s.requestLog(r).Info().Int64("user_id", id.UserID).Str("email", logging.Redact(id.Email)).Msg("email signup")
	}
	s.backToLanding(w, r)
}

// handleSignupDetails 提交详情后跳转到 Stripe 托管的 checkout 页面
func (s *Server) handleSignupDetails(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sid := getSIDFromContext(ctx)

	if interval := strings.TrimSpace(r.FormValue("interval")); interval != "" {
		sel, err := s.catalog.Select(plans.Interval(interval))
		if err == nil {
			_, err = s.wizard.SelectPlan(ctx, sid, sel)
		}
		if err != nil {
			s.requestLog(r).Warn().Err(err).Msg("updating plan from details form failed")
		}
	}

	st, sess, err := s.wizard.SubmitDetails(ctx, sid, getUserIDFromContext(ctx), signup.DetailsInput{
		Name:     r.FormValue("name"),
		ChildAge: r.FormValue("child_age"),
	})
	if err != nil {
		s.respondServiceErrorWithContext(w, r, err, "submit_details")
		return
	}
	if sess != nil && sess.URL != "" {
		http.Redirect(w, r, sess.URL, http.StatusSeeOther)
		return
	}
	if st.Step == signup.StepCheckout {
		s.requestLog(r).Warn().Msg("checkout session without redirect url")
	}
	s.backToLanding(w, r)
}

func (s *Server) handleSuccess(w http.ResponseWriter, r *http.Request) {
	// 支付完成后清理向导状态
	if err := s.wizard.Reset(r.Context(), getSIDFromContext(r.Context())); err != nil {
		s.requestLog(r).Warn().Err(err).Msg("clearing wizard state failed")
	}
	s.render(w, r, s.pages.success, successData{
		SessionID: r.URL.Query().Get("session_id"),
	})
}
