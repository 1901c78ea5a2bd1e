package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const defaultFile = "default.yaml"

// Set 多租户目录集合：默认目录 + 各组织的追加规则
type Set struct {
	def     *RuleCatalog
	tenants map[string]*RuleCatalog
}

// NewSet 创建目录集合，租户目录在默认目录基础上叠加
func NewSet(def *RuleCatalog, tenants map[string]*RuleCatalog) *Set {
	s := &Set{def: def, tenants: make(map[string]*RuleCatalog, len(tenants))}
	for org, c := range tenants {
		s.tenants[org] = def.Extend(c)
	}
	return s
}

// LoadSet 从目录加载
// dir 为空时只使用内置目录；dir/default.yaml 存在时替换内置目录；
// 其余 <orgId>.yaml 作为对应组织的追加规则
func LoadSet(dir string, logger *zap.Logger) (*Set, error) {
	if dir == "" {
		def, err := Default()
		if err != nil {
			return nil, err
		}
		logger.Info("Loaded embedded rule catalog", zap.Int("rules", def.Len()))
		return NewSet(def, nil), nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read catalog dir: %w", err)
	}

	def, err := LoadFile(filepath.Join(dir, defaultFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if def, err = Default(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	tenants := make(map[string]*RuleCatalog)
	for _, e := range entries {
		name := e.Name()
		ext := filepath.Ext(name)
		if e.IsDir() || name == defaultFile || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		c, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		tenants[strings.TrimSuffix(name, ext)] = c
	}

	s := NewSet(def, tenants)
	logger.Info("Loaded rule catalogs",
		zap.String("dir", dir),
		zap.Int("default_rules", def.Len()),
		zap.Strings("tenants", s.Tenants()),
	)
	return s, nil
}

// For 返回组织的目录，未单独配置时返回默认目录
func (s *Set) For(orgID string) *RuleCatalog {
	if c, ok := s.tenants[orgID]; ok {
		return c
	}
	return s.def
}

// Default 默认目录
func (s *Set) Default() *RuleCatalog {
	return s.def
}

// Tenants 单独配置了目录的组织
func (s *Set) Tenants() []string {
	orgs := make([]string, 0, len(s.tenants))
	for org := range s.tenants {
		orgs = append(orgs, org)
	}
	sort.Strings(orgs)
	return orgs
}
