package watcher

import (
	"time"

	"github.com/WeiXinbang/FuturesCloudSentinel/models"
)

// Evaluate decides whether an active order should fire. Price orders need
// a known quote for their symbol. Time orders fire once the clock reaches
// the trigger time, no matter how long ago that was.
func Evaluate(order *models.AlertOrder, quote models.Quote, haveQuote bool, now time.Time) (string, bool) {
	if order.Status != models.StatusActive {
		return "", false
	}

	switch order.Kind {
	case models.KindTime:
		if order.TriggerTime == nil {
			return "", false
		}
		if !now.Before(*order.TriggerTime) {
			return models.ReasonTime, true
		}
	case models.KindPrice:
		if !haveQuote {
			return "", false
		}
		if order.MaxPrice != nil && quote.Price >= *order.MaxPrice {
			return models.ReasonMaxPrice, true
		}
		if order.MinPrice != nil && quote.Price <= *order.MinPrice {
			return models.ReasonMinPrice, true
		}
	}
	return "", false
}
