// 包 dsmatch：把请求归类到唯一的交付服务
// 背景：先走精确域名快速路径，再按特异性顺序逐个评估匹配器，首个全部规则命中的匹配器胜出
package dsmatch

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"cdn-router/internal/snapshot"
)

var (
	ErrUnknownKind    = errors.New("unknown match kind")
	ErrInvalidPattern = errors.New("invalid match pattern")
	ErrUnknownCapture = errors.New("unknown capture group")
)

// Input：参与匹配的请求字段；Host 应已小写且去掉端口
type Input struct {
	Host   string
	Path   string
	Header http.Header
}

// Rule：编译后的单条规则
type Rule struct {
	Kind    string
	Header  string
	Pattern string
	re      *regexp.Regexp
	capture int
}

func compileRule(r snapshot.MatchRule) (Rule, error) {
	kind := strings.ToUpper(strings.TrimSpace(r.Type))
	switch kind {
	case snapshot.MatchHost, snapshot.MatchPath:
	case snapshot.MatchHeader:
		if r.Header == "" {
			return Rule{}, fmt.Errorf("%w: HEADER rule without header name", ErrUnknownKind)
		}
	default:
		return Rule{}, fmt.Errorf("%w: %q", ErrUnknownKind, r.Type)
	}
	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, r.Pattern, err)
	}
	out := Rule{Kind: kind, Header: r.Header, Pattern: r.Pattern, re: re, capture: -1}
	if r.Capture != "" {
		idx := re.SubexpIndex(r.Capture)
		if idx < 0 {
			n, err := strconv.Atoi(r.Capture)
			if err != nil || n < 0 || n > re.NumSubexp() {
				return Rule{}, fmt.Errorf("%w: %q in %q", ErrUnknownCapture, r.Capture, r.Pattern)
			}
			idx = n
		}
		out.capture = idx
	}
	return out, nil
}

func (r Rule) field(in Input) string {
	switch r.Kind {
	case snapshot.MatchHost:
		return in.Host
	case snapshot.MatchPath:
		return in.Path
	default:
		return in.Header.Get(r.Header)
	}
}

// Matcher：一个交付服务的有序规则，全部命中才算匹配
type Matcher struct {
	DeliveryService string
	Rules           []Rule
}

// NewMatcher：编译交付服务的全部规则；任一规则非法则整个匹配器无效
func NewMatcher(ds string, rules []snapshot.MatchRule) (*Matcher, error) {
	m := &Matcher{DeliveryService: ds, Rules: make([]Rule, 0, len(rules))}
	for _, r := range rules {
		cr, err := compileRule(r)
		if err != nil {
			return nil, fmt.Errorf("delivery service %s: %w", ds, err)
		}
		m.Rules = append(m.Rules, cr)
	}
	return m, nil
}

// Match：AND 语义；返回首个声明捕获的规则提取到的值（可为空）
func (m *Matcher) Match(in Input) (string, bool) {
	if len(m.Rules) == 0 {
		return "", false
	}
	capture := ""
	captured := false
	for _, r := range m.Rules {
		v := r.field(in)
		if r.capture < 0 || captured {
			if !r.re.MatchString(v) {
				return "", false
			}
			continue
		}
		sub := r.re.FindStringSubmatch(v)
		if sub == nil {
			return "", false
		}
		capture, captured = sub[r.capture], true
	}
	return capture, true
}

// Less：特异性顺序
// 约束：首条规则模式长度降序，同长按字典序升序；无规则的匹配器排最后；
// 其后逐条比较后续规则，规则更多者在前，最后按交付服务 id
func Less(a, b *Matcher) bool {
	if len(a.Rules) == 0 || len(b.Rules) == 0 {
		if len(a.Rules) != len(b.Rules) {
			return len(b.Rules) == 0
		}
		return a.DeliveryService < b.DeliveryService
	}
	n := len(a.Rules)
	if len(b.Rules) < n {
		n = len(b.Rules)
	}
	for i := 0; i < n; i++ {
		pa, pb := a.Rules[i].Pattern, b.Rules[i].Pattern
		if len(pa) != len(pb) {
			return len(pa) > len(pb)
		}
		if pa != pb {
			return pa < pb
		}
	}
	if len(a.Rules) != len(b.Rules) {
		return len(a.Rules) > len(b.Rules)
	}
	return a.DeliveryService < b.DeliveryService
}

// Set：不可变的匹配器集合
type Set struct {
	exact    map[string]string
	matchers []*Matcher
}

// NewSet：exact 为小写 FQDN 到交付服务 id 的映射
func NewSet(exact map[string]string, matchers []*Matcher) *Set {
	ms := append([]*Matcher(nil), matchers...)
	sort.SliceStable(ms, func(i, j int) bool { return Less(ms[i], ms[j]) })
	ex := make(map[string]string, len(exact))
	for k, v := range exact {
		ex[strings.ToLower(k)] = v
	}
	return &Set{exact: ex, matchers: ms}
}

// Match：返回交付服务 id 与捕获值
func (s *Set) Match(in Input) (string, string, bool) {
	if ds, ok := s.exact[in.Host]; ok {
		return ds, "", true
	}
	for _, m := range s.matchers {
		if c, ok := m.Match(in); ok {
			return m.DeliveryService, c, true
		}
	}
	return "", "", false
}

// Matchers：评估顺序下的匹配器，只读
func (s *Set) Matchers() []*Matcher { return s.matchers }
