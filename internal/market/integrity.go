package market

import "context"

// Gap 是缺失 K 线的开盘时间闭区间。
type Gap struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// IntegrityReport 描述缓存在某个区间内的完整度。
type IntegrityReport struct {
	Expected int64 `json:"expected"`
	Present  int64 `json:"present"`
	Gaps     []Gap `json:"gaps"`
}

// Complete 表示区间内没有缺口。
func (r IntegrityReport) Complete() bool {
	return len(r.Gaps) == 0
}

// CheckIntegrity 对齐 start~end 后逐格比对已有 open_time，返回缺口列表。
func (s *Store) CheckIntegrity(ctx context.Context, symbol string, tf Timeframe, start, end int64) (IntegrityReport, error) {
	start, end = tf.AlignRange(start, end)
	times, err := s.LoadOpenTimes(ctx, symbol, tf.Key, start, end)
	if err != nil {
		return IntegrityReport{}, err
	}
	return buildReport(times, tf.Millis(), start, end), nil
}

func buildReport(times []int64, step, start, end int64) IntegrityReport {
	report := IntegrityReport{Expected: ((end - start) / step) + 1}
	present := make(map[int64]struct{}, len(times))
	for _, ts := range times {
		present[ts] = struct{}{}
	}
	var open *Gap
	for ts := start; ts <= end; ts += step {
		if _, ok := present[ts]; ok {
			report.Present++
			if open != nil {
				report.Gaps = append(report.Gaps, *open)
				open = nil
			}
			continue
		}
		if open == nil {
			open = &Gap{From: ts, To: ts}
		} else {
			open.To = ts
		}
	}
	if open != nil {
		report.Gaps = append(report.Gaps, *open)
	}
	return report
}
