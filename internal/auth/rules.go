package auth

import "crypto/subtle"

// 访问规则是个封闭集合，按 (资源, 操作) 查表分发，
// 代替在请求上下文里解释字符串表达式的做法；没有规则的组合一律拒绝

// Rule 访问规则变体
type Rule int

const (
	// RuleOwner 请求者就是资源所有者
	RuleOwner Rule = iota
	// RuleToken 请求携带的设备令牌与资源令牌一致
	RuleToken
	// RuleRefOwner 请求者拥有资源引用的上级对象（如 widget 所在的 dashboard）
	RuleRefOwner
)

// Input 规则判定所需的上下文；无关字段留空即可
type Input struct {
	UserID         string // 已认证用户
	PresentedToken string // 请求携带的设备令牌
	OwnerID        string // 资源所有者
	ResourceToken  string // 资源上登记的设备令牌
	RefOwnerID     string // 被引用上级对象的所有者
}

var rules = map[string]Rule{
	"devices.read":       RuleOwner,
	"devices.write":      RuleOwner,
	"telemetry.write":    RuleToken,
	"telemetry.read":     RuleToken,
	"dashboards.read":    RuleOwner,
	"dashboards.write":   RuleOwner,
	"widgets.read":       RuleRefOwner,
	"widgets.write":      RuleRefOwner,
	"schedules.read":     RuleRefOwner,
	"schedules.write":    RuleRefOwner,
	"notifications.read": RuleOwner,
}

// Authorize 判定 subject 对 resource 的 action 是否放行
// resource 形如 "devices"、"widgets"；action 为 "read"/"write"
func Authorize(resource, action string, in Input) bool {
	rule, ok := rules[resource+"."+action]
	if !ok {
		// 未定义的组合默认拒绝
		return false
	}
	switch rule {
	case RuleOwner:
		return in.UserID != "" && in.UserID == in.OwnerID
	case RuleToken:
		return in.PresentedToken != "" &&
			subtle.ConstantTimeCompare([]byte(in.PresentedToken), []byte(in.ResourceToken)) == 1
	case RuleRefOwner:
		return in.UserID != "" && in.UserID == in.RefOwnerID
	}
	return false
}
