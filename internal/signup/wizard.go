package signup

import (
	"context"
	"errors"
	"strings"
	"time"

	"babygpt/internal/analytics"
	"babygpt/internal/checkout"
	"babygpt/internal/plans"
	"babygpt/internal/recaptcha"
	"babygpt/internal/services"

	"github.com/rs/zerolog"
)

// loadingTimeout 超过该时间的 IsLoading 视为上次请求已中断
const loadingTimeout = time.Minute

const (
	msgInProgress      = "Your previous request is still being processed"
	msgCredentials     = "Email and password are required"
	msgWeakPassword    = "Please choose a stronger password"
	msgBotRequired     = "Please complete the verification challenge"
	msgBotFailed       = "Verification failed, please try again"
	msgEmailExists     = "An account with this email already exists"
	msgSignupFailed    = "Signup failed, please try again"
	msgPlanRequired    = "Please select a plan"
	msgEmailRequired   = "Email is required to continue"
	msgSignInRequired  = "Please sign in to continue"
	msgCheckoutFailed  = "Checkout failed, please try again"
	msgCheckoutMissing = "Checkout is temporarily unavailable"
)

type BotVerifier interface {
	Verify(ctx context.Context, token string) (recaptcha.Result, error)
}

type AccountRegistrar interface {
	Register(ctx context.Context, email, password string) (Identity, error)
}

type CheckoutStarter interface {
	Start(ctx context.Context, userID int64, req checkout.Request) (checkout.Session, error)
}

type WizardDeps struct {
	States           *StateStore
	Bot              BotVerifier
	Passwords        PasswordScorer
	PasswordMinScore int
	Accounts         AccountRegistrar
	Checkout         CheckoutStarter
	Tracker          analytics.Tracker
	Logger           zerolog.Logger
}

// Wizard 驱动注册弹窗的 initial、details、checkout 三步
// 失败时不切换步骤，只设置 State.Error
type Wizard struct {
	states   *StateStore
	bot      BotVerifier
	scorer   PasswordScorer
	minScore int
	accounts AccountRegistrar
	checkout CheckoutStarter
	tracker  analytics.Tracker
	logger   zerolog.Logger
	now      func() time.Time
}

func NewWizard(d WizardDeps) *Wizard {
	w := &Wizard{
		states:   d.States,
		bot:      d.Bot,
		scorer:   d.Passwords,
		minScore: d.PasswordMinScore,
		accounts: d.Accounts,
		checkout: d.Checkout,
		tracker:  d.Tracker,
		logger:   d.Logger,
		now:      time.Now,
	}
	if w.scorer == nil {
		w.scorer = ZxcvbnScorer{}
	}
	if w.minScore <= 0 {
		w.minScore = DefaultPasswordMinScore
	}
	if w.tracker == nil {
		w.tracker = analytics.Discard{}
	}
	return w
}

func (w *Wizard) State(ctx context.Context, sid string) (State, error) {
	return w.states.Load(ctx, sid)
}

// Restore 把 Bridge 的结果应用到已保存的向导状态，只在状态有变化时写回
// 认证错误只用于本次渲染，不会保存
func (w *Wizard) Restore(ctx context.Context, sid string, out Outcome) (State, error) {
	st, err := w.states.Load(ctx, sid)
	if err != nil {
		return State{}, err
	}
	dirty := false
	if !out.Profile.IsZero() && st.Profile != out.Profile {
		st.Profile = out.Profile
		dirty = true
	}
	if st.Form.Email == "" && st.Profile.Email != "" {
		st.Form.Email = st.Profile.Email
		dirty = true
	}
	if out.Plan != nil && (st.SelectedPlan == nil || !st.SelectedPlan.Equal(*out.Plan)) {
		st.SelectedPlan = out.Plan
		dirty = true
	}
	if out.ForceDetails && (st.Step != StepDetails || st.Error != "") {
		st.Step = StepDetails
		st.Error = ""
		dirty = true
	}
	if out.OpenSignup && !st.Open {
		st.Open = true
		dirty = true
	}
	if st.IsLoading && w.now().Sub(st.LoadingSince) >= loadingTimeout {
		st.IsLoading = false
		dirty = true
	}
	if dirty {
		if err := w.states.Save(ctx, sid, st); err != nil {
			return State{}, err
		}
	}
	if out.AuthError != "" {
		st.Error = out.AuthError
		st.Open = true
	}
	return st, nil
}

func (w *Wizard) Open(ctx context.Context, sid string) (State, error) {
	st, err := w.states.Load(ctx, sid)
	if err != nil {
		return State{}, err
	}
	if !st.Open {
		w.tracker.Track(analytics.SignupModalOpened, planLabel(st.SelectedPlan))
	}
	st.Open = true
	return st, w.states.Save(ctx, sid, st)
}

func (w *Wizard) SelectPlan(ctx context.Context, sid string, sel plans.Selection) (State, error) {
	st, err := w.states.Load(ctx, sid)
	if err != nil {
		return State{}, err
	}
	st.SelectedPlan = &sel
	st.Open = true
	st.Error = ""
	w.tracker.Track(analytics.PlanSelected, string(sel.Interval))
	return st, w.states.Save(ctx, sid, st)
}

// Reset 关闭弹窗时清除套餐和向导状态
func (w *Wizard) Reset(ctx context.Context, sid string) error {
	return w.states.Clear(ctx, sid)
}

type EmailInput struct {
	Email    string
	Password string
	BotToken string
}

// SubmitEmail 依次检查密码强度、人机验证，然后创建账号；成功后进入 details
func (w *Wizard) SubmitEmail(ctx context.Context, sid string, in EmailInput) (State, *Identity, error) {
	st, ok, err := w.begin(ctx, sid)
	if err != nil || !ok {
		return st, nil, err
	}
	email := strings.TrimSpace(in.Email)
	st.Form.Email = email
	st.Open = true

	fail := func(msg string) (State, *Identity, error) {
		err := w.finish(ctx, sid, &st, msg)
		return st, nil, err
	}

	if email == "" || in.Password == "" {
		return fail(msgCredentials)
	}
	if w.scorer.Score(in.Password, email) < w.minScore {
		return fail(msgWeakPassword)
	}
	if w.bot == nil {
		return fail(msgBotFailed)
	}
	if _, err := w.bot.Verify(ctx, in.BotToken); err != nil {
		w.logger.Warn().Err(err).Msg("bot verification rejected signup")
		if errors.Is(err, recaptcha.ErrMissingToken) {
			return fail(msgBotRequired)
		}
		return fail(msgBotFailed)
	}

	id, err := w.accounts.Register(ctx, email, in.Password)
	if err != nil {
		if errors.Is(err, services.ErrEmailAlreadyExists) {
			return fail(msgEmailExists)
		}
		w.logger.Error().Err(err).Msg("account registration failed")
		return fail(msgSignupFailed)
	}

	st.Profile.Email = id.Email
	if id.Profile.Name != "" && st.Profile.Name == "" {
		st.Profile.Name = id.Profile.Name
	}
	st.Step = StepDetails
	w.tracker.Track(analytics.SignupCompleted, planLabel(st.SelectedPlan))
	err = w.finish(ctx, sid, &st, "")
	return st, &id, err
}

type DetailsInput struct {
	Name     string
	ChildAge string
}

// SubmitDetails 在选好套餐后创建 checkout session
// 未选套餐或缺少邮箱时不会发起任何网络请求
func (w *Wizard) SubmitDetails(ctx context.Context, sid string, userID int64, in DetailsInput) (State, *checkout.Session, error) {
	st, err := w.states.Load(ctx, sid)
	if err != nil {
		return State{}, nil, err
	}
	if name := strings.TrimSpace(in.Name); name != "" {
		st.Profile.Name = name
	}
	st.ChildAge = strings.TrimSpace(in.ChildAge)
	st.Open = true

	if st.SelectedPlan == nil {
		st.Error = msgPlanRequired
		return st, nil, w.states.Save(ctx, sid, st)
	}
	if st.Profile.Email == "" {
		st.Error = msgEmailRequired
		return st, nil, w.states.Save(ctx, sid, st)
	}
	if w.checkout == nil {
		w.logger.Error().Msg("checkout starter not configured")
		st.Error = msgCheckoutMissing
		return st, nil, w.states.Save(ctx, sid, st)
	}

	st, ok, err := w.beginFrom(ctx, sid, st)
	if err != nil || !ok {
		return st, nil, err
	}

	sess, err := w.checkout.Start(ctx, userID, checkout.Request{
		PlanInterval:  st.SelectedPlan.Interval,
		CustomerName:  st.Profile.Name,
		CustomerEmail: st.Profile.Email,
	})
	if err != nil {
		var msg string
		switch {
		case errors.Is(err, checkout.ErrUnauthenticated):
			msg = msgSignInRequired
		case errors.Is(err, checkout.ErrNotConfigured):
			msg = msgCheckoutMissing
		default:
			msg = msgCheckoutFailed
		}
		w.logger.Error().Err(err).Int64("user_id", userID).Msg("checkout start failed")
		err = w.finish(ctx, sid, &st, msg)
		return st, nil, err
	}

	st.Step = StepCheckout
	st.CheckoutURL = sess.URL
	w.tracker.Track(analytics.CheckoutStarted, string(st.SelectedPlan.Interval))
	err = w.finish(ctx, sid, &st, "")
	return st, &sess, err
}

func (w *Wizard) begin(ctx context.Context, sid string) (State, bool, error) {
	st, err := w.states.Load(ctx, sid)
	if err != nil {
		return State{}, false, err
	}
	return w.beginFrom(ctx, sid, st)
}

// beginFrom 设置 IsLoading，拒绝并发的重复提交
func (w *Wizard) beginFrom(ctx context.Context, sid string, st State) (State, bool, error) {
	now := w.now()
	if st.IsLoading && now.Sub(st.LoadingSince) < loadingTimeout {
		st.Error = msgInProgress
		return st, false, nil
	}
	st.IsLoading = true
	st.LoadingSince = now
	st.Error = ""
	if err := w.states.Save(ctx, sid, st); err != nil {
		return State{}, false, err
	}
	return st, true, nil
}

func (w *Wizard) finish(ctx context.Context, sid string, st *State, msg string) error {
	st.IsLoading = false
	st.LoadingSince = time.Time{}
	st.Error = msg
	return w.states.Save(ctx, sid, *st)
}

func planLabel(sel *plans.Selection) string {
	if sel == nil {
		return ""
	}
	return string(sel.Interval)
}
