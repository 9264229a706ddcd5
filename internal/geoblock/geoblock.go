// 包 geoblock：按交付服务的区域策略放行、拒绝或重定向请求
// 背景：规则集由外部 JSON 文件/存储下发，整体解析成功才替换；解析失败时保留上一份可用规则
package geoblock

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"

	"cdn-router/internal/cidr"
)

var ErrInvalidRule = errors.New("invalid regional geo rule")

// Outcome：区域策略判定结果
type Outcome int

const (
	Denied Outcome = iota
	Allowed
	AlternateWithCache
	AlternateWithoutCache
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "ALLOWED"
	case AlternateWithCache:
		return "ALTERNATE_WITH_CACHE"
	case AlternateWithoutCache:
		return "ALTERNATE_WITHOUT_CACHE"
	default:
		return "DENIED"
	}
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// Result：判定结果与对应 URL
type Result struct {
	Outcome Outcome `json:"outcome"`
	URL     string  `json:"url"`
}

// PostalPolicy：邮编策略
type PostalPolicy int

const (
	Include PostalPolicy = iota
	Exclude
)

// Rule：单条区域规则，按声明顺序评估
type Rule struct {
	DeliveryService string
	Pattern         *regexp.Regexp
	Policy          PostalPolicy
	AlternateURL    string

	codes     map[string]struct{}
	lengths   []int
	whitelist *cidr.Index
}

// allowsPostal：按配置中各邮编长度截取提交邮编的前缀后比较
func (r *Rule) allowsPostal(postal string) bool {
	p := NormalizePostal(postal)
	if p == "" {
		return false
	}
	found := false
	for _, n := range r.lengths {
		if len(p) < n {
			continue
		}
		if _, ok := r.codes[p[:n]]; ok {
			found = true
			break
		}
	}
	if r.Policy == Include {
		return found
	}
	return !found
}

// NormalizePostal：去掉首尾与内部空白并转为大写
func NormalizePostal(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

// RuleSet：不可变规则集
type RuleSet struct {
	byDS  map[string][]*Rule
	count int
}

func (rs *RuleSet) Len() int { return rs.count }

type fileRule struct {
	DeliveryServiceID string   `json:"deliveryServiceId"`
	URLRegex          string   `json:"urlRegex"`
	RedirectURL       string   `json:"redirectUrl"`
	IPWhiteList       []string `json:"ipWhiteList"`
	GeoLocation       struct {
		IncludePostalCode []string `json:"includePostalCode"`
		ExcludePostalCode []string `json:"excludePostalCode"`
	} `json:"geoLocation"`
}

type fileFormat struct {
	Rules []fileRule `json:"regionalGeoBlocking"`
}

// Parse：解析整个规则文件；任一规则非法即整体失败
func Parse(data []byte) (*RuleSet, error) {
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if f.Rules == nil {
		return nil, fmt.Errorf("%w: missing regionalGeoBlocking list", ErrInvalidRule)
	}
	rs := &RuleSet{byDS: map[string][]*Rule{}}
	for i, fr := range f.Rules {
		r, err := compile(fr)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rs.byDS[r.DeliveryService] = append(rs.byDS[r.DeliveryService], r)
		rs.count++
	}
	return rs, nil
}

func compile(fr fileRule) (*Rule, error) {
	if fr.DeliveryServiceID == "" {
		return nil, fmt.Errorf("%w: missing deliveryServiceId", ErrInvalidRule)
	}
	re, err := regexp.Compile(fr.URLRegex)
	if err != nil || fr.URLRegex == "" {
		return nil, fmt.Errorf("%w: bad urlRegex %q", ErrInvalidRule, fr.URLRegex)
	}
	inc, exc := fr.GeoLocation.IncludePostalCode, fr.GeoLocation.ExcludePostalCode
	if (len(inc) == 0) == (len(exc) == 0) {
		return nil, fmt.Errorf("%w: exactly one of includePostalCode or excludePostalCode required", ErrInvalidRule)
	}
	r := &Rule{DeliveryService: fr.DeliveryServiceID, Pattern: re, Policy: Include, codes: map[string]struct{}{}, whitelist: cidr.NewIndex()}
	codes := inc
	if len(exc) > 0 {
		r.Policy, codes = Exclude, exc
	}
	seen := map[int]bool{}
	for _, c := range codes {
		n := NormalizePostal(c)
		if n == "" {
			return nil, fmt.Errorf("%w: empty postal code", ErrInvalidRule)
		}
		r.codes[n] = struct{}{}
		if !seen[len(n)] {
			seen[len(n)] = true
			r.lengths = append(r.lengths, len(n))
		}
	}
	sort.Ints(r.lengths)
	if fr.RedirectURL != "" {
		if _, err := url.Parse(fr.RedirectURL); err != nil {
			return nil, fmt.Errorf("%w: bad redirectUrl %q", ErrInvalidRule, fr.RedirectURL)
		}
		r.AlternateURL = fr.RedirectURL
	}
	for _, w := range fr.IPWhiteList {
		n, err := cidr.Parse(w, "")
		if err != nil {
			return nil, fmt.Errorf("%w: whitelist: %v", ErrInvalidRule, err)
		}
		r.whitelist.Insert(n)
	}
	return r, nil
}

// Evaluate：取该交付服务下首条 URL 匹配的规则判定；无规则即拒绝
func (rs *RuleSet) Evaluate(ds, requestURL string, client net.IP, postal string) Result {
	if rs == nil {
		return Result{Outcome: Denied}
	}
	for _, r := range rs.byDS[ds] {
		if !r.Pattern.MatchString(requestURL) {
			continue
		}
		if _, ok := r.whitelist.Lookup(client); ok {
			return Result{Outcome: Allowed, URL: requestURL}
		}
		if postal != "" && r.allowsPostal(postal) {
			return Result{Outcome: Allowed, URL: requestURL}
		}
		if r.AlternateURL != "" {
			if u, err := url.Parse(r.AlternateURL); err == nil && u.IsAbs() {
				return Result{Outcome: AlternateWithoutCache, URL: r.AlternateURL}
			}
			return Result{Outcome: AlternateWithCache, URL: r.AlternateURL}
		}
		return Result{Outcome: Denied}
	}
	return Result{Outcome: Denied}
}

// Evaluator：持有当前规则集，可在服务中整体替换
type Evaluator struct {
	mu    sync.RWMutex
	rules *RuleSet
}

func NewEvaluator() *Evaluator { return &Evaluator{} }

// Reload：解析成功才替换；失败时保留现有规则集
func (e *Evaluator) Reload(data []byte) error {
	rs, err := Parse(data)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.rules = rs
	e.mu.Unlock()
	return nil
}

func (e *Evaluator) Evaluate(ds, requestURL string, client net.IP, postal string) Result {
	e.mu.RLock()
	rs := e.rules
	e.mu.RUnlock()
	return rs.Evaluate(ds, requestURL, client, postal)
}

// Len：当前规则数，未加载时为 0
func (e *Evaluator) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.rules == nil {
		return 0
	}
	return e.rules.count
}
