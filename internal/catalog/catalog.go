package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/masslabs/passport/internal/models"
)

//go:embed default.yaml
var defaultYAML []byte

// DefaultSource 内置目录的来源名
const DefaultSource = "embedded:default.yaml"

// RuleCatalog 规则目录，进程启动时加载一次，之后只读
type RuleCatalog struct {
	source string
	rules  []models.MaintenanceRule
	byID   map[string]int
}

// file 目录文件格式
type file struct {
	Rules []models.MaintenanceRule `yaml:"rules"`
}

// New 校验规则并创建目录
func New(source string, rules []models.MaintenanceRule) (*RuleCatalog, error) {
	c := &RuleCatalog{
		source: source,
		rules:  make([]models.MaintenanceRule, 0, len(rules)),
		byID:   make(map[string]int, len(rules)),
	}
	for i := range rules {
		r := rules[i]
		if err := validateRule(source, &r); err != nil {
			return nil, err
		}
		if _, dup := c.byID[r.ID]; dup {
			return nil, &models.ConfigurationError{Source: source, RuleID: r.ID, Reason: "duplicate rule id"}
		}
		c.byID[r.ID] = len(c.rules)
		c.rules = append(c.rules, r)
	}
	return c, nil
}

// Parse 解析 YAML 目录
func Parse(source string, data []byte) (*RuleCatalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, &models.ConfigurationError{Source: source, Reason: fmt.Sprintf("decode yaml: %v", err)}
	}
	return New(source, f.Rules)
}

// LoadFile 从文件加载目录
func LoadFile(path string) (*RuleCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(path, data)
}

// Default 内置默认目录
func Default() (*RuleCatalog, error) {
	return Parse(DefaultSource, defaultYAML)
}

// Source 目录来源（文件路径）
func (c *RuleCatalog) Source() string {
	return c.source
}

// Len 规则数量
func (c *RuleCatalog) Len() int {
	return len(c.rules)
}

// Rules 返回规则副本，调用方可以随意排序
func (c *RuleCatalog) Rules() []models.MaintenanceRule {
	out := make([]models.MaintenanceRule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Get 按 ID 查找规则
func (c *RuleCatalog) Get(id string) (models.MaintenanceRule, bool) {
	i, ok := c.byID[id]
	if !ok {
		return models.MaintenanceRule{}, false
	}
	return c.rules[i], true
}

// Extend 在当前目录基础上叠加规则，ID 相同的规则被覆盖
func (c *RuleCatalog) Extend(other *RuleCatalog) *RuleCatalog {
	merged := &RuleCatalog{
		source: c.source + "+" + other.source,
		rules:  make([]models.MaintenanceRule, 0, len(c.rules)+len(other.rules)),
		byID:   make(map[string]int, len(c.rules)+len(other.rules)),
	}
	for _, r := range c.rules {
		if o, ok := other.Get(r.ID); ok {
			r = o
		}
		merged.byID[r.ID] = len(merged.rules)
		merged.rules = append(merged.rules, r)
	}
	for _, r := range other.rules {
		if _, ok := merged.byID[r.ID]; ok {
			continue
		}
		merged.byID[r.ID] = len(merged.rules)
		merged.rules = append(merged.rules, r)
	}
	return merged
}

// IDs 按字典序返回所有规则 ID
func (c *RuleCatalog) IDs() []string {
	ids := make([]string, 0, len(c.byID))
	for id := range c.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func validateRule(source string, r *models.MaintenanceRule) error {
	fail := func(reason string) error {
		return &models.ConfigurationError{Source: source, RuleID: r.ID, Reason: reason}
	}

	switch {
	case r.ID == "":
		return fail("id is required")
	case !r.Make.IsSet():
		return fail("make is required (use ALL for any make)")
	case !r.Model.IsSet():
		return fail("model is required (use ALL for any model)")
	case r.Service == "":
		return fail("service is required")
	case !r.Category.Valid():
		return fail(fmt.Sprintf("unknown category %q", r.Category))
	case !r.Severity.Valid():
		return fail(fmt.Sprintf("unknown severity %q", r.Severity))
	case r.FuelType != "" && !r.FuelType.Valid():
		return fail(fmt.Sprintf("unknown fuel_type %q", r.FuelType))
	case r.YearFrom <= 0 || r.YearTo <= 0:
		return fail("year_from and year_to are required")
	case r.YearFrom > r.YearTo:
		return fail("year_from is after year_to")
	case r.IntervalDistance == nil && r.IntervalMonths == nil:
		return fail("neither interval_km nor interval_months is set")
	case r.IntervalDistance != nil && *r.IntervalDistance <= 0:
		return fail("interval_km must be positive")
	case r.IntervalMonths != nil && *r.IntervalMonths <= 0:
		return fail("interval_months must be positive")
	case r.EstimatedCost.IsNegative():
		return fail("estimated_cost must not be negative")
	case r.LaborHours < 0:
		return fail("labor_hours must not be negative")
	}
	return nil
}
