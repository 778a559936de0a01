package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"backlab/internal/backtest"

	"gopkg.in/yaml.v3"
)

// Format 是导出格式。
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath 按扩展名推断导出格式。
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported export format %q (want .json, .yaml or .yml)", filepath.Ext(path))
	}
}

// Export 以指定格式写出完整结果。
func Export(w io.Writer, res backtest.Result, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(res); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// ExportFile 按扩展名写文件。
func ExportFile(path string, res backtest.Result) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	if err := ensureParent(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Export(f, res, format); err != nil {
		_ = f.Close()
		return fmt.Errorf("export %s: %w", path, err)
	}
	return f.Close()
}

func ensureParent(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
