/*
Copyright (C) 2025 [GrainArc]

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package Gorast

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultAlignmentEpsilon 默认对齐容差（像素单位）
const DefaultAlignmentEpsilon = 1e-6

// Config 引擎配置
type Config struct {
	XMLName          xml.Name `xml:"config"`
	AlignmentEpsilon float64  `xml:"alignment_epsilon"`
	MaxAllocBytes    int64    `xml:"max_alloc_bytes"` // 0 表示不限制
	LogLevel         string   `xml:"log_level"`
	StoreDSN         string   `xml:"store_dsn"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		AlignmentEpsilon: DefaultAlignmentEpsilon,
		LogLevel:         "warn",
		StoreDSN:         "gorast.db",
	}
}

// DefaultConfigPath 用户配置目录下的配置文件路径
func DefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config dir: %w", err)
	}
	return filepath.Join(configDir, "Gorast", "config.xml"), nil
}

// LoadConfig 从XML文件加载配置，缺省字段使用默认值
func LoadConfig(path string) (*Config, error) {
	xmlFile, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config %s: %w", path, err)
	}
	defer xmlFile.Close()

	cfg := DefaultConfig()
	xmlDecoder := xml.NewDecoder(xmlFile)
	if err := xmlDecoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.AlignmentEpsilon < 0 {
		return fmt.Errorf("invalid alignment_epsilon: %g", c.AlignmentEpsilon)
	}
	if c.AlignmentEpsilon == 0 {
		c.AlignmentEpsilon = DefaultAlignmentEpsilon
	}
	if c.MaxAllocBytes < 0 {
		return fmt.Errorf("invalid max_alloc_bytes: %d", c.MaxAllocBytes)
	}
	if c.LogLevel != "" {
		if _, ok := parseLogLevel(c.LogLevel); !ok {
			return fmt.Errorf("invalid log_level: %q", c.LogLevel)
		}
	}
	return nil
}
