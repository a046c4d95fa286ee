package router

import (
	"time"

	appconfig "github.com/WeiXinbang/FuturesCloudSentinel/config"
)

// inTradingHours reports whether the wall clock falls inside any configured
// session. Sessions with close before open wrap past midnight. With
// enforcement off, or no sessions configured, every moment counts as open.
func inTradingHours(cfg appconfig.TradingConfig, now time.Time) bool {
	if !cfg.EnforceHours || len(cfg.Sessions) == 0 {
		return true
	}

	minutes := now.Hour()*60 + now.Minute()
	for _, s := range cfg.Sessions {
		open, err := parseWallClock(s.Open)
		if err != nil {
			continue
		}
		close, err := parseWallClock(s.Close)
		if err != nil {
			continue
		}
		if open <= close {
			if minutes >= open && minutes < close {
				return true
			}
		} else {
			if minutes >= open || minutes < close {
				return true
			}
		}
	}
	return false
}

func parseWallClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
