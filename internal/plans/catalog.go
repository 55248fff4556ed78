// Package plans 定义两个可购买的订阅套餐，并按运行环境解析 Stripe price id
package plans

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Interval string

const (
	Monthly  Interval = "monthly"
	Annually Interval = "annually"
)

func (i Interval) Valid() bool {
	return i == Monthly || i == Annually
}

type Environment string

const (
	EnvTest       Environment = "test"
	EnvProduction Environment = "production"
)

var (
	ErrUnknownInterval    = errors.New("unknown plan interval")
	ErrPriceNotConfigured = errors.New("stripe price not configured")
)

//go:embed catalog.yaml
var catalogYAML []byte

type Plan struct {
	Interval    Interval
	Name        string
	Description string
	Price       decimal.Decimal
	Badge       string
	Savings     string
	Features    []string
}

// PriceIDs 四个环境相关的 Stripe price id
type PriceIDs struct {
	MonthlyTest  string
	MonthlyProd  string
	AnnuallyTest string
	AnnuallyProd string
}

func (p PriceIDs) lookup(env Environment, interval Interval) string {
	switch {
	case env == EnvProduction && interval == Monthly:
		return p.MonthlyProd
	case env == EnvProduction && interval == Annually:
		return p.AnnuallyProd
	case interval == Monthly:
		return p.MonthlyTest
	case interval == Annually:
		return p.AnnuallyTest
	}
	return ""
}

type Catalog struct {
	env   Environment
	ids   PriceIDs
	plans []Plan
}

type yamlCatalog struct {
	Plans []struct {
		Interval    string   `yaml:"interval"`
		Name        string   `yaml:"name"`
		Price       string   `yaml:"price"`
		Description string   `yaml:"description"`
		Badge       string   `yaml:"badge"`
		Savings     string   `yaml:"savings"`
		Features    []string `yaml:"features"`
	} `yaml:"plans"`
}

func Load(env Environment, ids PriceIDs) (*Catalog, error) {
	return parse(catalogYAML, env, ids)
}

func parse(raw []byte, env Environment, ids PriceIDs) (*Catalog, error) {
	var doc yamlCatalog
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if env != EnvProduction {
		env = EnvTest
	}
	c := &Catalog{env: env, ids: ids}
	seen := map[Interval]bool{}
	for _, p := range doc.Plans {
		interval := Interval(p.Interval)
		if !interval.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownInterval, p.Interval)
		}
		if seen[interval] {
			return nil, fmt.Errorf("duplicate plan interval %q", p.Interval)
		}
		seen[interval] = true
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return nil, fmt.Errorf("plan %s price: %w", p.Interval, err)
		}
		c.plans = append(c.plans, Plan{
			Interval:    interval,
			Name:        p.Name,
			Description: p.Description,
			Price:       price,
			Badge:       p.Badge,
			Savings:     p.Savings,
			Features:    p.Features,
		})
	}
	if len(c.plans) != 2 {
		return nil, fmt.Errorf("catalog must define monthly and annually plans, got %d", len(c.plans))
	}
	return c, nil
}

func (c *Catalog) Environment() Environment {
	return c.env
}

func (c *Catalog) Plans() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

func (c *Catalog) Plan(interval Interval) (Plan, bool) {
	for _, p := range c.plans {
		if p.Interval == interval {
			return p, true
		}
	}
	return Plan{}, false
}

// PriceID 返回当前环境下的 Stripe price id，缺失时返回配置错误
func (c *Catalog) PriceID(interval Interval) (string, error) {
	if _, ok := c.Plan(interval); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownInterval, interval)
	}
	id := c.ids.lookup(c.env, interval)
	if id == "" {
		return "", fmt.Errorf("%w: %s/%s", ErrPriceNotConfigured, interval, c.env)
	}
	return id, nil
}

// Selection 保存在会话存储 selectedPlan 键下的套餐对象
type Selection struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Interval Interval        `json:"interval"`
}

func (s Selection) Equal(o Selection) bool {
	return s.ID == o.ID && s.Name == o.Name && s.Interval == o.Interval && s.Price.Equal(o.Price)
}

// Select 构造指定周期的套餐选择；price 未配置时 ID 为空，checkout 会在服务端重新解析
func (c *Catalog) Select(interval Interval) (Selection, error) {
	p, ok := c.Plan(interval)
	if !ok {
		return Selection{}, fmt.Errorf("%w: %q", ErrUnknownInterval, interval)
	}
	return Selection{
		ID:       c.ids.lookup(c.env, interval),
		Name:     p.Name,
		Price:    p.Price,
		Interval: p.Interval,
	}, nil
}

func (s Selection) Marshal() (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func ParseSelection(raw string) (Selection, error) {
	var s Selection
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Selection{}, err
	}
	if !s.Interval.Valid() {
		return Selection{}, fmt.Errorf("%w: %q", ErrUnknownInterval, s.Interval)
	}
	return s, nil
}
