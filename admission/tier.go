package admission

import (
	"fmt"
	"slices"
	"strings"
)

// Tier 调用方档位，按权限从低到高排列
type Tier string

const (
	TierAnonymous     Tier = "anonymous"
	TierAuthenticated Tier = "authenticated"
	TierPremium       Tier = "premium"
	TierAdmin         Tier = "admin"
)

var tierRank = map[Tier]int{
	TierAnonymous:     0,
	TierAuthenticated: 1,
	TierPremium:       2,
	TierAdmin:         3,
}

// Rank returns the ordering position of t; unknown tiers rank lowest.
func (t Tier) Rank() int { return tierRank[t] }

// Tiers 按 Rank 升序返回全部档位
func Tiers() []Tier {
	out := make([]Tier, 0, len(tierRank))
	for t := range tierRank {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b Tier) int { return a.Rank() - b.Rank() })
	return out
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// ParseTier 解析档位名称（大小写不敏感）
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// Metadata is what the caller knows about the identity. The controller never
// looks identities up itself.
type Metadata struct {
	Authenticated bool   `json:"authenticated"`
	Plan          string `json:"plan,omitempty"`
	Admin         bool   `json:"admin,omitempty"`
}

var premiumPlans = map[string]bool{
	"premium":    true,
	"pro":        true,
	"business":   true,
	"enterprise": true,
}

// TierFromMetadata 根据调用方元数据推导档位；未登录时忽略 plan 与 admin 标记
func TierFromMetadata(m Metadata) Tier {
	if !m.Authenticated {
		return TierAnonymous
	}
	if m.Admin {
		return TierAdmin
	}
	if premiumPlans[strings.ToLower(strings.TrimSpace(m.Plan))] {
		return TierPremium
	}
	return TierAuthenticated
}
