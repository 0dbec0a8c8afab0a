package config

import (
	"fmt"
	"math"
	"net"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/nuetzliches/brokeradmin/internal/broker"
	"github.com/nuetzliches/brokeradmin/internal/security"
)

const (
	defaultBrokerName           = "localhost"
	defaultHousekeepingInterval = 30 * time.Second
	defaultAdminListen          = "127.0.0.1:8161"
	defaultGRPCListen           = "127.0.0.1:8162"
	defaultMetricsListen        = "127.0.0.1:9161"
	defaultAdminMaxBody         = 1 << 20
	defaultNotificationsBuffer  = 256
	defaultNotificationsPath    = "./.data/notifications.db"
	defaultTracingTimeout       = 10 * time.Second
	maxNotificationsBuffer      = 100000
)

// Notification journal backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Compiled is the validated runtime configuration with every default applied.
type Compiled struct {
	Broker        BrokerConfig
	AdminAPI      APIConfig
	GRPCAPI       APIConfig
	Metrics       APIConfig
	Security      SecurityConfig
	Notifications NotificationsConfig
	Observability ObservabilityConfig
	Resources     ResourcesConfig
}

type BrokerConfig struct {
	Name                 string
	Exposure             bool
	HousekeepingInterval time.Duration
}

type APIConfig struct {
	Enabled      bool
	Listen       string
	AccessLog    bool
	MaxBodyBytes int64
	RateLimit    RateLimitConfig
}

// RateLimitConfig caps requests per second per listener. Zero RPS means
// unlimited.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

type SecurityConfig struct {
	AllowAll bool
	Tokens   []TokenConfig
	Roles    map[string][]security.Rule
}

// TokenConfig binds a secret ref to the subject it authenticates as.
type TokenConfig struct {
	Ref   string
	User  string
	Roles []string
}

type NotificationsConfig struct {
	Enabled   bool
	Backend   string
	Path      string
	DSN       string
	Retention time.Duration
	Buffer    int
}

type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
	LogOutput string
	LogPath   string
	Tracing   TracingConfig
}

type TracingConfig struct {
	Enabled     bool
	Collector   string
	Insecure    bool
	Timeout     time.Duration
	ServiceName string
}

type AddressConfig struct {
	Name    string
	Routing []broker.RoutingType
}

// ResourcesConfig seeds the in-memory broker at startup.
type ResourcesConfig struct {
	Addresses          []AddressConfig
	Queues             []broker.QueueInfo
	Acceptors          []broker.AcceptorInfo
	Diverts            []broker.DivertInfo
	Bridges            []broker.BridgeInfo
	ClusterConnections []broker.ClusterConnectionInfo
	BroadcastGroups    []broker.BroadcastGroupInfo
	BrokerConnections  []broker.BrokerConnectionInfo
	ConnectionRouters  []broker.ConnectionRouterInfo
}

func Compile(cfg *Config) (Compiled, ValidationResult) {
	var res ValidationResult
	if cfg == nil {
		res.Errors = append(res.Errors, "nil config")
		return Compiled{}, res
	}

	blocks := map[string]*Node{}
	for _, n := range cfg.Nodes {
		switch n.Name {
		case "broker", "admin_api", "grpc_api", "metrics", "security", "notifications", "observability", "resources":
		default:
			res.errorf(n, n.Name, "unknown top-level directive")
			continue
		}
		if prev, ok := blocks[n.Name]; ok {
			res.errorf(n, n.Name, "duplicate block (first at %s)", prev.pos)
			continue
		}
		blocks[n.Name] = n
	}

	out := Compiled{
		Broker:        compileBroker(blocks["broker"], &res),
		AdminAPI:      compileAPI("admin_api", blocks["admin_api"], defaultAdminListen, true, &res),
		GRPCAPI:       compileAPI("grpc_api", blocks["grpc_api"], defaultGRPCListen, false, &res),
		Metrics:       compileAPI("metrics", blocks["metrics"], defaultMetricsListen, false, &res),
		Security:      compileSecurity(blocks["security"], &res),
		Notifications: compileNotifications(blocks["notifications"], &res),
		Observability: compileObservability(blocks["observability"], &res),
		Resources:     compileResources(blocks["resources"], &res),
	}

	listeners := map[string]string{}
	for _, api := range []struct {
		name string
		cfg  APIConfig
	}{
		{"admin_api", out.AdminAPI},
		{"grpc_api", out.GRPCAPI},
		{"metrics", out.Metrics},
	} {
		if !api.cfg.Enabled {
			continue
		}
		if other, ok := listeners[api.cfg.Listen]; ok {
			res.errorf(blocks[api.name], api.name+".listen", "%q is already used by %s", api.cfg.Listen, other)
			continue
		}
		listeners[api.cfg.Listen] = api.name
	}

	res.OK = len(res.Errors) == 0
	return out, res
}

// directives iterates the children of n, rejecting unknown and repeated
// names. Names listed in repeatable may occur more than once.
func directives(n *Node, field string, res *ValidationResult, known []string, repeatable []string, fn func(c *Node)) {
	if n == nil {
		return
	}
	seen := map[string]bool{}
	for _, c := range n.Children {
		if !contains(known, c.Name) {
			res.errorf(c, field, "unknown directive %q", c.Name)
			continue
		}
		if seen[c.Name] && !contains(repeatable, c.Name) {
			res.errorf(c, field+"."+c.Name, "duplicate directive")
			continue
		}
		seen[c.Name] = true
		fn(c)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// singleValue returns the only argument of n with placeholders resolved.
func singleValue(n *Node, field string, res *ValidationResult) (string, bool) {
	if len(n.Args) != 1 || n.HasBlock {
		res.errorf(n, field, "expects exactly one value")
		return "", false
	}
	return resolveValue(n, n.Args[0].Value, field, res), true
}

func boolValue(n *Node, field string, res *ValidationResult) (bool, bool) {
	raw, ok := singleValue(n, field, res)
	if !ok {
		return false, false
	}
	v, ok := parseBoolValue(raw)
	if !ok {
		res.errorf(n, field, "must be on|off")
	}
	return v, ok
}

func durationValue(n *Node, field string, allowOff bool, res *ValidationResult) (time.Duration, bool) {
	raw, ok := singleValue(n, field, res)
	if !ok {
		return 0, false
	}
	d, off, err := parseDurationValue(raw)
	if err != nil {
		res.errorf(n, field, "%v", err)
		return 0, false
	}
	if (off || d == 0) && !allowOff {
		res.errorf(n, field, "must be a positive duration")
		return 0, false
	}
	return d, true
}

func intValue(n *Node, field string, min, max int, res *ValidationResult) (int, bool) {
	raw, ok := singleValue(n, field, res)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v < min || v > max {
		res.errorf(n, field, "must be an integer in [%d, %d]", min, max)
		return 0, false
	}
	return v, true
}

// listValue accepts "a,b" as well as "a b" and "a, b".
func listValue(n *Node, field string, res *ValidationResult) []string {
	var out []string
	for _, a := range n.Args {
		for _, part := range strings.Split(resolveValue(n, a.Value, field, res), ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	if len(out) == 0 {
		res.errorf(n, field, "expects at least one value")
	}
	return out
}

func compileBroker(n *Node, res *ValidationResult) BrokerConfig {
	out := BrokerConfig{
		Name:                 defaultBrokerName,
		Exposure:             true,
		HousekeepingInterval: defaultHousekeepingInterval,
	}
	if n == nil {
		return out
	}
	switch len(n.Args) {
	case 0:
	case 1:
		name := strings.TrimSpace(resolveValue(n, n.Args[0].Value, "broker", res))
		if name == "" {
			res.errorf(n, "broker", "name must not be empty")
		} else {
			out.Name = name
		}
	default:
		res.errorf(n, "broker", "expects at most one name")
	}
	directives(n, "broker", res, []string{"exposure", "housekeeping_interval"}, nil, func(c *Node) {
		switch c.Name {
		case "exposure":
			if v, ok := boolValue(c, "broker.exposure", res); ok {
				out.Exposure = v
			}
		case "housekeeping_interval":
			if d, ok := durationValue(c, "broker.housekeeping_interval", false, res); ok {
				out.HousekeepingInterval = d
			}
		}
	})
	return out
}

func compileAPI(name string, n *Node, defaultListen string, enabledByDefault bool, res *ValidationResult) APIConfig {
	out := APIConfig{
		Enabled: enabledByDefault || n != nil,
		Listen:  defaultListen,
	}
	if name == "admin_api" {
		out.MaxBodyBytes = defaultAdminMaxBody
	}
	if n == nil {
		return out
	}
	if len(n.Args) > 0 {
		res.errorf(n, name, "takes no arguments")
	}
	known := []string{"enabled", "listen", "access_log"}
	if name == "admin_api" || name == "grpc_api" {
		known = append(known, "max_body", "rate_limit")
	}
	directives(n, name, res, known, nil, func(c *Node) {
		field := name + "." + c.Name
		switch c.Name {
		case "enabled":
			if v, ok := boolValue(c, field, res); ok {
				out.Enabled = v
			}
		case "listen":
			raw, ok := singleValue(c, field, res)
			if !ok {
				return
			}
			if _, _, err := net.SplitHostPort(raw); err != nil {
				res.errorf(c, field, "must be host:port: %v", err)
				return
			}
			out.Listen = raw
		case "access_log":
			if v, ok := boolValue(c, field, res); ok {
				out.AccessLog = v
			}
		case "max_body":
			raw, ok := singleValue(c, field, res)
			if !ok {
				return
			}
			size, err := parseByteSize(raw)
			if err != nil || size <= 0 {
				res.errorf(c, field, "must be a positive size like 512kb or 1mb")
				return
			}
			out.MaxBodyBytes = size
		case "rate_limit":
			if rl, ok := parseRateLimit(c, field, res); ok {
				out.RateLimit = rl
			}
		}
	})
	return out
}

// parseRateLimit reads "rate_limit <rps> [burst]". Burst defaults to the
// rate rounded up.
func parseRateLimit(n *Node, field string, res *ValidationResult) (RateLimitConfig, bool) {
	if len(n.Args) < 1 || len(n.Args) > 2 || n.HasBlock {
		res.errorf(n, field, "expects <rps> [burst]")
		return RateLimitConfig{}, false
	}
	rps, err := strconv.ParseFloat(strings.TrimSpace(resolveValue(n, n.Args[0].Value, field, res)), 64)
	if err != nil || rps <= 0 || math.IsInf(rps, 0) || math.IsNaN(rps) {
		res.errorf(n, field, "rps must be a positive number")
		return RateLimitConfig{}, false
	}
	burst := int(math.Ceil(rps))
	if len(n.Args) == 2 {
		b, err := strconv.Atoi(strings.TrimSpace(resolveValue(n, n.Args[1].Value, field, res)))
		if err != nil || b < 1 {
			res.errorf(n, field, "burst must be a positive integer")
			return RateLimitConfig{}, false
		}
		burst = b
	}
	return RateLimitConfig{RPS: rps, Burst: burst}, true
}

func compileSecurity(n *Node, res *ValidationResult) SecurityConfig {
	out := SecurityConfig{AllowAll: true, Roles: map[string][]security.Rule{}}
	if n == nil {
		return out
	}
	out.AllowAll = false
	directives(n, "security", res, []string{"allow_all", "token", "role"}, []string{"token", "role"}, func(c *Node) {
		switch c.Name {
		case "allow_all":
			if v, ok := boolValue(c, "security.allow_all", res); ok {
				out.AllowAll = v
			}
		case "token":
			if tok, ok := compileToken(c, res); ok {
				out.Tokens = append(out.Tokens, tok)
			}
		case "role":
			name, rules, ok := compileRole(c, res)
			if !ok {
				return
			}
			if _, dup := out.Roles[name]; dup {
				res.errorf(c, "security.role", "duplicate role %q", name)
				return
			}
			out.Roles[name] = rules
		}
	})

	if !out.AllowAll && len(out.Tokens) == 0 {
		res.errorf(n, "security", "allow_all off requires at least one token")
	}
	for _, tok := range out.Tokens {
		for _, role := range tok.Roles {
			if _, ok := out.Roles[role]; !ok {
				res.warnf(n, "security", "token for user %q references undefined role %q", tok.User, role)
			}
		}
	}
	return out
}

func compileToken(n *Node, res *ValidationResult) (TokenConfig, bool) {
	const field = "security.token"
	if len(n.Args) != 1 {
		res.errorf(n, field, "expects exactly one secret ref")
		return TokenConfig{}, false
	}
	ref := strings.TrimSpace(n.Args[0].Value)
	if err := security.ValidateRef(ref); err != nil {
		res.errorf(n, field, "%v", err)
		return TokenConfig{}, false
	}
	out := TokenConfig{Ref: ref}
	directives(n, field, res, []string{"user", "roles"}, nil, func(c *Node) {
		switch c.Name {
		case "user":
			if v, ok := singleValue(c, field+".user", res); ok {
				out.User = strings.TrimSpace(v)
			}
		case "roles":
			out.Roles = listValue(c, field+".roles", res)
		}
	})
	if out.User == "" {
		res.errorf(n, field+".user", "is required")
		return TokenConfig{}, false
	}
	return out, true
}

// compileRole reads one role block. "resource" may repeat; every pattern is
// granted the role's access level. "rule <pattern> <access>" adds rules with
// their own level.
func compileRole(n *Node, res *ValidationResult) (string, []security.Rule, bool) {
	const field = "security.role"
	if len(n.Args) != 1 || strings.TrimSpace(n.Args[0].Value) == "" {
		res.errorf(n, field, "expects exactly one role name")
		return "", nil, false
	}
	name := strings.TrimSpace(n.Args[0].Value)
	var patterns []string
	var rules []security.Rule
	access := security.AccessView
	directives(n, field, res, []string{"resource", "access", "rule"}, []string{"resource", "rule"}, func(c *Node) {
		switch c.Name {
		case "resource":
			if v, ok := singleValue(c, field+".resource", res); ok && checkPattern(c, field+".resource", v, res) {
				patterns = append(patterns, v)
			}
		case "access":
			raw, ok := singleValue(c, field+".access", res)
			if !ok {
				return
			}
			a, ok := security.ParseAccess(raw)
			if !ok {
				res.errorf(c, field+".access", "must be view|update")
				return
			}
			access = a
		case "rule":
			if len(c.Args) != 2 {
				res.errorf(c, field+".rule", "expects a resource pattern and an access level")
				return
			}
			a, ok := security.ParseAccess(c.Args[1].Value)
			if !ok {
				res.errorf(c, field+".rule", "access must be view|update")
				return
			}
			if checkPattern(c, field+".rule", c.Args[0].Value, res) {
				rules = append(rules, security.Rule{Resource: c.Args[0].Value, Access: a})
			}
		}
	})
	for _, p := range patterns {
		rules = append(rules, security.Rule{Resource: p, Access: access})
	}
	if len(rules) == 0 {
		res.errorf(n, field, "role %q grants nothing", name)
		return "", nil, false
	}
	return name, rules, true
}

func checkPattern(n *Node, field, pattern string, res *ValidationResult) bool {
	if pattern == "*" {
		return true
	}
	if _, err := path.Match(pattern, ""); err != nil {
		res.errorf(n, field, "invalid pattern %q: %v", pattern, err)
		return false
	}
	return true
}

func compileNotifications(n *Node, res *ValidationResult) NotificationsConfig {
	out := NotificationsConfig{
		Backend: BackendMemory,
		Path:    defaultNotificationsPath,
		Buffer:  defaultNotificationsBuffer,
	}
	if n == nil {
		return out
	}
	out.Enabled = true
	directives(n, "notifications", res, []string{"enabled", "backend", "path", "dsn", "retention", "buffer"}, nil, func(c *Node) {
		field := "notifications." + c.Name
		switch c.Name {
		case "enabled":
			if v, ok := boolValue(c, field, res); ok {
				out.Enabled = v
			}
		case "backend":
			raw, ok := singleValue(c, field, res)
			if !ok {
				return
			}
			switch b := strings.ToLower(strings.TrimSpace(raw)); b {
			case BackendMemory, BackendSQLite, BackendPostgres:
				out.Backend = b
			default:
				res.errorf(c, field, "must be memory|sqlite|postgres")
			}
		case "path":
			if v, ok := singleValue(c, field, res); ok {
				out.Path = strings.TrimSpace(v)
			}
		case "dsn":
			if v, ok := singleValue(c, field, res); ok {
				out.DSN = strings.TrimSpace(v)
			}
		case "retention":
			if d, ok := durationValue(c, field, true, res); ok {
				out.Retention = d
			}
		case "buffer":
			if v, ok := intValue(c, field, 1, maxNotificationsBuffer, res); ok {
				out.Buffer = v
			}
		}
	})
	switch out.Backend {
	case BackendSQLite:
		if out.Path == "" {
			res.errorf(n, "notifications.path", "is required for the sqlite backend")
		}
	case BackendPostgres:
		if out.DSN == "" {
			res.errorf(n, "notifications.dsn", "is required for the postgres backend")
		}
	}
	return out
}

func compileObservability(n *Node, res *ValidationResult) ObservabilityConfig {
	out := ObservabilityConfig{
		LogLevel:  "info",
		LogFormat: "json",
		LogOutput: "stderr",
		Tracing: TracingConfig{
			Timeout:     defaultTracingTimeout,
			ServiceName: "brokeradmin",
		},
	}
	if n == nil {
		return out
	}
	directives(n, "observability", res, []string{"log_level", "log_format", "log_output", "log_path", "tracing"}, nil, func(c *Node) {
		field := "observability." + c.Name
		switch c.Name {
		case "log_level":
			raw, ok := singleValue(c, field, res)
			if !ok {
				return
			}
			switch lvl := strings.ToLower(strings.TrimSpace(raw)); lvl {
			case "debug", "info", "warn", "error":
				out.LogLevel = lvl
			default:
				res.errorf(c, field, "must be debug|info|warn|error")
			}
		case "log_format":
			raw, ok := singleValue(c, field, res)
			if !ok {
				return
			}
			switch f := strings.ToLower(strings.TrimSpace(raw)); f {
			case "json", "text":
				out.LogFormat = f
			default:
				res.errorf(c, field, "must be json|text")
			}
		case "log_output":
			raw, ok := singleValue(c, field, res)
			if !ok {
				return
			}
			switch o := strings.ToLower(strings.TrimSpace(raw)); o {
			case "stderr", "stdout", "file":
				out.LogOutput = o
			default:
				res.errorf(c, field, "must be stderr|stdout|file")
			}
		case "log_path":
			if v, ok := singleValue(c, field, res); ok {
				out.LogPath = strings.TrimSpace(v)
			}
		case "tracing":
			out.Tracing = compileTracing(c, out.Tracing, res)
		}
	})
	if out.LogOutput == "file" && out.LogPath == "" {
		res.errorf(n, "observability.log_path", "is required when log_output is file")
	}
	return out
}

func compileTracing(n *Node, out TracingConfig, res *ValidationResult) TracingConfig {
	const prefix = "observability.tracing"
	if !n.HasBlock {
		res.errorf(n, prefix, "expects a block")
		return out
	}
	out.Enabled = true
	directives(n, prefix, res, []string{"enabled", "collector", "insecure", "timeout", "service_name"}, nil, func(c *Node) {
		field := prefix + "." + c.Name
		switch c.Name {
		case "enabled":
			if v, ok := boolValue(c, field, res); ok {
				out.Enabled = v
			}
		case "collector":
			raw, ok := singleValue(c, field, res)
			if !ok {
				return
			}
			u, err := url.Parse(strings.TrimSpace(raw))
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				res.errorf(c, field, "must be an http(s) URL")
				return
			}
			out.Collector = u.String()
		case "insecure":
			if v, ok := boolValue(c, field, res); ok {
				out.Insecure = v
			}
		case "timeout":
			if d, ok := durationValue(c, field, false, res); ok {
				out.Timeout = d
			}
		case "service_name":
			if v, ok := singleValue(c, field, res); ok && strings.TrimSpace(v) != "" {
				out.ServiceName = strings.TrimSpace(v)
			}
		}
	})
	if out.Enabled && out.Collector == "" {
		res.errorf(n, prefix+".collector", "is required when tracing is enabled")
	}
	return out
}

func parseBoolValue(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "on", "yes":
		return true, true
	case "0", "false", "off", "no":
		return false, true
	default:
		return false, false
	}
}

// parseDurationValue accepts Go durations, a "d" suffix for days, and "off"
// or "0" for disabled.
func parseDurationValue(raw string) (time.Duration, bool, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch raw {
	case "":
		return 0, false, fmt.Errorf("must not be empty")
	case "off", "0":
		return 0, true, nil
	}
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		v, err := strconv.Atoi(days)
		if err != nil || v < 0 {
			return 0, false, fmt.Errorf("must be a duration like 5m, 2h, 7d, or off")
		}
		return time.Duration(v) * 24 * time.Hour, false, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("must be a duration like 5m, 2h, 7d, or off")
	}
	if d < 0 {
		return 0, false, fmt.Errorf("must be a non-negative duration")
	}
	return d, false, nil
}

// parseByteSize accepts a plain byte count or a kb/mb/gb suffix (binary
// multiples).
func parseByteSize(raw string) (int64, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	mult := int64(1)
	for _, unit := range []struct {
		suffix string
		mult   int64
	}{
		{"kb", 1 << 10},
		{"mb", 1 << 20},
		{"gb", 1 << 30},
		{"b", 1},
	} {
		if v, ok := strings.CutSuffix(s, unit.suffix); ok {
			s, mult = strings.TrimSpace(v), unit.mult
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", raw)
	}
	return n * mult, nil
}
