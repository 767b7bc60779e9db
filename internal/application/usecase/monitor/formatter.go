package monitor

import (
	"fmt"
	"strings"
	"time"

	"xoracle/internal/application/service"
	"xoracle/internal/domain/model"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiDim    = "\033[2m"
)

func colorize(s, c string) string { return c + s + ansiReset }

// Formatter 渲染账本状态与历史，价格按定点小数格式化
type Formatter struct {
	Decimals int32
}

func NewFormatter(decimals int32) *Formatter {
	if decimals <= 0 {
		decimals = model.DefaultPriceDecimals
	}
	return &Formatter{Decimals: decimals}
}

func (f *Formatter) Price(p uint64) string {
	return model.FormatPrice(p, f.Decimals)
}

// Render 单行状态；color=false 时不输出 ANSI 转义
func (f *Formatter) Render(snap service.Snapshot, color bool) string {
	paint := func(s, c string) string {
		if !color {
			return s
		}
		return colorize(s, c)
	}

	var sb strings.Builder
	sb.WriteString(paint("[XORACLE] ", ansiDim))

	if !snap.HasLatest {
		sb.WriteString(paint("price=--", ansiYellow))
	} else {
		col := ansiGreen
		if snap.Stale {
			col = ansiRed
		}
		sb.WriteString(paint("price="+f.Price(snap.Latest.Price), col))
		sb.WriteString(fmt.Sprintf(" age=%ds", snap.AgeSec))
	}
	sb.WriteString(fmt.Sprintf(" heartbeat=%ds len=%d", snap.HeartbeatSec, snap.Length))
	return sb.String()
}

// RenderHistory 每行一条：索引、时间、价格
func (f *Formatter) RenderHistory(start uint64, entries []model.PriceEntry) string {
	var sb strings.Builder
	for i, e := range entries {
		fmt.Fprintf(&sb, "%6d  %s  %s\n",
			start+uint64(i),
			e.Time().UTC().Format(time.RFC3339),
			f.Price(e.Price))
	}
	return sb.String()
}
