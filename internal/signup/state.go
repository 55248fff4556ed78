package signup

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"babygpt/internal/plans"
	"babygpt/internal/sessionstore"

	"github.com/rs/zerolog"
)

const (
	keySelectedPlan = "selectedPlan"
	keyWizard       = "wizard"
)

type Step string

const (
	StepInitial  Step = "initial"
	StepDetails  Step = "details"
	StepCheckout Step = "checkout"
)

type Form struct {
	Email    string `json:"email"`
	Password string `json:"-"`
}

// State 注册向导状态；SelectedPlan 单独保存在 selectedPlan 键下
type State struct {
	Step         Step             `json:"step"`
	Open         bool             `json:"open"`
	Form         Form             `json:"form"`
	Profile      ProfileSnapshot  `json:"profile"`
	SelectedPlan *plans.Selection `json:"-"`
	ChildAge     string           `json:"childAge,omitempty"`
	IsLoading    bool             `json:"isLoading"`
	LoadingSince time.Time        `json:"loadingSince"`
	Error        string           `json:"error,omitempty"`
	CheckoutURL  string           `json:"checkoutUrl,omitempty"`
}

func NewState() State {
	return State{Step: StepInitial}
}

type StateStore struct {
	store  sessionstore.Store
	logger zerolog.Logger
}

func NewStateStore(store sessionstore.Store, logger zerolog.Logger) *StateStore {
	return &StateStore{store: store, logger: logger}
}

// StoredPlan 返回 selectedPlan 原始值，未保存时返回空字符串
func (s *StateStore) StoredPlan(ctx context.Context, sid string) (string, error) {
	raw, err := s.store.Get(ctx, sid, keySelectedPlan)
	if errors.Is(err, sessionstore.ErrNotFound) {
		return "", nil
	}
	return raw, err
}

// Load 读取向导状态，损坏的数据按初始状态处理
func (s *StateStore) Load(ctx context.Context, sid string) (State, error) {
	st := NewState()
	raw, err := s.store.Get(ctx, sid, keyWizard)
	switch {
	case errors.Is(err, sessionstore.ErrNotFound):
	case err != nil:
		return State{}, err
	default:
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			s.logger.Warn().Err(err).Msg("discarding malformed wizard state")
			st = NewState()
		}
	}

	planRaw, err := s.StoredPlan(ctx, sid)
	if err != nil {
		return State{}, err
	}
	if planRaw != "" {
		sel, err := plans.ParseSelection(planRaw)
		if err != nil {
			s.logger.Warn().Err(err).Msg("discarding malformed stored plan")
		} else {
			st.SelectedPlan = &sel
		}
	}
	return st, nil
}

func (s *StateStore) Save(ctx context.Context, sid string, st State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, sid, keyWizard, string(raw)); err != nil {
		return err
	}
	if st.SelectedPlan == nil {
		return s.store.Delete(ctx, sid, keySelectedPlan)
	}
	planRaw, err := st.SelectedPlan.Marshal()
	if err != nil {
		return err
	}
	return s.store.Set(ctx, sid, keySelectedPlan, planRaw)
}

func (s *StateStore) Clear(ctx context.Context, sid string) error {
	return s.store.Delete(ctx, sid, keyWizard, keySelectedPlan)
}
