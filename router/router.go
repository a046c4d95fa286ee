package router

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	appconfig "github.com/WeiXinbang/FuturesCloudSentinel/config"
	"github.com/WeiXinbang/FuturesCloudSentinel/logger"
	"github.com/WeiXinbang/FuturesCloudSentinel/models"
	"github.com/WeiXinbang/FuturesCloudSentinel/protocol"
	"github.com/WeiXinbang/FuturesCloudSentinel/store"
	"github.com/WeiXinbang/FuturesCloudSentinel/watcher"
)

// ClientSession is what the router needs from a connection: the push
// channel plus the ability to bind an authenticated account to it.
type ClientSession interface {
	watcher.Session
	Bind(account string)
}

// Router decodes request envelopes and runs the matching handler. The
// session, never the request body, is the authority on who is acting.
type Router struct {
	store    store.Store
	registry *watcher.Registry
	trading  appconfig.TradingConfig
	now      func() time.Time
	log      *logger.Entry
}

func NewRouter(st store.Store, registry *watcher.Registry, trading appconfig.TradingConfig) *Router {
	return &Router{
		store:    st,
		registry: registry,
		trading:  trading,
		now:      time.Now,
		log:      logger.GetLogger().WithComponent("router"),
	}
}

// Dispatch handles one framed request body and always returns a response.
func (r *Router) Dispatch(ctx context.Context, session ClientSession, body []byte) *protocol.Response {
	req, err := protocol.DecodeRequest(body)
	if err != nil {
		return protocol.Fail(nil, protocol.CodeMalformed, "malformed request")
	}

	logger.IncrementRequest(len(body))

	switch req.Type {
	case protocol.TypeRegister:
		return r.register(ctx, req)
	case protocol.TypeLogin:
		return r.login(ctx, session, req)
	case protocol.TypeSetEmail:
		return r.setEmail(ctx, session, req)
	case protocol.TypeAddWarning:
		return r.addWarning(ctx, session, req)
	case protocol.TypeModifyWarning:
		return r.modifyWarning(ctx, session, req)
	case protocol.TypeDeleteWarning:
		return r.deleteWarning(ctx, session, req)
	case protocol.TypeQueryWarnings:
		return r.queryWarnings(ctx, session, req)
	case protocol.TypeAlertAck:
		return r.alertAck(ctx, session, req)
	default:
		return protocol.Fail(req, protocol.CodeInvalidParam, "unknown request type")
	}
}

// storeFail maps store errors onto wire error codes. notFoundCode lets each
// handler pick the domain meaning of a missing row.
func storeFail(req *protocol.Request, err error, notFoundCode int, notFoundMsg string) *protocol.Response {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return protocol.Fail(req, notFoundCode, notFoundMsg)
	case errors.Is(err, store.ErrConflict):
		return protocol.Fail(req, protocol.CodeUsernameTaken, "already exists")
	case errors.Is(err, context.DeadlineExceeded):
		return protocol.Fail(req, protocol.CodeTimeout, "store operation timed out")
	case errors.Is(err, store.ErrUnavailable):
		return protocol.Fail(req, protocol.CodeStoreFailure, "store unavailable")
	default:
		return protocol.Fail(req, protocol.CodeInternal, "internal error")
	}
}

func (r *Router) register(ctx context.Context, req *protocol.Request) *protocol.Response {
	if req.Account == "" || req.Password == "" {
		return protocol.Fail(req, protocol.CodeMissingParam, "account and password are required")
	}
	if !validAccount(req.Account) {
		return protocol.Fail(req, protocol.CodeInvalidParam, "invalid account name")
	}
	if !validPassword(req.Password) {
		return protocol.Fail(req, protocol.CodeInvalidParam, "invalid password length")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return protocol.Fail(req, protocol.CodeInternal, "internal error")
	}

	if err := r.store.CreateUser(ctx, req.Account, string(hash)); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return protocol.Fail(req, protocol.CodeUsernameTaken, "username already taken")
		}
		return storeFail(req, err, protocol.CodeInternal, "internal error")
	}

	r.log.WithFields(logger.Fields{"account": req.Account}).Info("account registered")
	return protocol.OK(req, map[string]string{"account": req.Account})
}

func (r *Router) login(ctx context.Context, session ClientSession, req *protocol.Request) *protocol.Response {
	if req.Account == "" || req.Password == "" {
		return protocol.Fail(req, protocol.CodeMissingParam, "account and password are required")
	}

	user, err := r.store.GetUser(ctx, req.Account)
	if err != nil {
		return storeFail(req, err, protocol.CodeUserNotFound, "user not found")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return protocol.Fail(req, protocol.CodeBadPassword, "wrong password")
	}
	if user.State == models.UserDisabled {
		return protocol.Fail(req, protocol.CodeAccountLocked, "account locked")
	}

	session.Bind(user.Account)
	if err := r.registry.Attach(session); err != nil {
		r.log.WithError(err).Error("failed to attach watcher")
		return protocol.Fail(req, protocol.CodeInternal, "internal error")
	}

	r.log.WithFields(logger.Fields{"account": user.Account, "session": session.ID()}).Info("login")
	return protocol.OK(req, map[string]string{"account": user.Account})
}

// requireLogin returns the bound account or a 2004 response.
func requireLogin(session ClientSession, req *protocol.Request) (string, *protocol.Response) {
	account := session.Account()
	if account == "" {
		return "", protocol.Fail(req, protocol.CodeNotLoggedIn, "not logged in")
	}
	return account, nil
}

func (r *Router) setEmail(ctx context.Context, session ClientSession, req *protocol.Request) *protocol.Response {
	account, fail := requireLogin(session, req)
	if fail != nil {
		return fail
	}
	if req.Email == "" {
		return protocol.Fail(req, protocol.CodeMissingParam, "email is required")
	}
	if !validEmail(req.Email) {
		return protocol.Fail(req, protocol.CodeInvalidParam, "invalid email address")
	}

	if err := r.store.SetEmail(ctx, account, req.Email); err != nil {
		return storeFail(req, err, protocol.CodeUserNotFound, "user not found")
	}
	return protocol.OK(req, map[string]string{"email": req.Email})
}

func (r *Router) addWarning(ctx context.Context, session ClientSession, req *protocol.Request) *protocol.Response {
	account, fail := requireLogin(session, req)
	if fail != nil {
		return fail
	}
	if req.Symbol == "" || req.Kind == "" {
		return protocol.Fail(req, protocol.CodeMissingParam, "symbol and kind are required")
	}
	if !validSymbol(req.Symbol) {
		return protocol.Fail(req, protocol.CodeUnknownSymbol, "unknown symbol")
	}

	order := &models.AlertOrder{
		OrderID: uuid.NewString(),
		Account: account,
		Symbol:  req.Symbol,
		Kind:    req.Kind,
		Status:  models.StatusActive,
	}

	switch req.Kind {
	case models.KindPrice:
		if req.MaxPrice == nil && req.MinPrice == nil {
			return protocol.Fail(req, protocol.CodeInvalidBounds, "price warning needs max_price or min_price")
		}
		if !inTradingHours(r.trading, r.now()) {
			return protocol.Fail(req, protocol.CodeOutsideTradingHours, "outside trading hours")
		}
		order.MaxPrice = req.MaxPrice
		order.MinPrice = req.MinPrice
	case models.KindTime:
		if req.TriggerTime == "" {
			return protocol.Fail(req, protocol.CodeMissingParam, "trigger_time is required")
		}
		t, ok := parseTriggerTime(req.TriggerTime)
		if !ok {
			return protocol.Fail(req, protocol.CodeInvalidTriggerTime, "invalid trigger_time")
		}
		order.TriggerTime = &t
	default:
		return protocol.Fail(req, protocol.CodeInvalidKind, "kind must be price or time")
	}

	if err := r.store.CreateOrder(ctx, order); err != nil {
		return storeFail(req, err, protocol.CodeInternal, "internal error")
	}

	r.log.WithFields(logger.Fields{
		"account":  account,
		"order_id": order.OrderID,
		"symbol":   order.Symbol,
		"kind":     order.Kind,
	}).Info("warning added")
	return protocol.OK(req, order)
}

// modifyWarning updates only the fields present in the request. A field
// omitted from the body keeps its stored value.
func (r *Router) modifyWarning(ctx context.Context, session ClientSession, req *protocol.Request) *protocol.Response {
	account, fail := requireLogin(session, req)
	if fail != nil {
		return fail
	}
	if req.OrderID == "" {
		return protocol.Fail(req, protocol.CodeMissingParam, "order_id is required")
	}

	order, err := r.store.GetOrder(ctx, account, req.OrderID)
	if err != nil {
		return storeFail(req, err, protocol.CodeOrderNotFound, "order not found")
	}
	if order.Status != models.StatusActive {
		return protocol.Fail(req, protocol.CodeInvalidParam, "order already triggered")
	}
	// Only bounds and trigger time are mutable; kind, symbol and owner
	// are fixed at creation.
	if req.Kind != "" && req.Kind != order.Kind {
		return protocol.Fail(req, protocol.CodeInvalidKind, "kind cannot be changed")
	}

	switch order.Kind {
	case models.KindPrice:
		if req.MaxPrice != nil {
			order.MaxPrice = req.MaxPrice
		}
		if req.MinPrice != nil {
			order.MinPrice = req.MinPrice
		}
		if order.MaxPrice == nil && order.MinPrice == nil {
			return protocol.Fail(req, protocol.CodeInvalidBounds, "price warning needs max_price or min_price")
		}
	case models.KindTime:
		if req.TriggerTime != "" {
			t, ok := parseTriggerTime(req.TriggerTime)
			if !ok {
				return protocol.Fail(req, protocol.CodeInvalidTriggerTime, "invalid trigger_time")
			}
			order.TriggerTime = &t
		}
	}

	if err := r.store.UpdateOrder(ctx, order); err != nil {
		return storeFail(req, err, protocol.CodeOrderNotFound, "order not found")
	}

	r.log.WithFields(logger.Fields{"account": account, "order_id": order.OrderID}).Info("warning modified")
	return protocol.OK(req, order)
}

func (r *Router) deleteWarning(ctx context.Context, session ClientSession, req *protocol.Request) *protocol.Response {
	account, fail := requireLogin(session, req)
	if fail != nil {
		return fail
	}
	if req.OrderID == "" {
		return protocol.Fail(req, protocol.CodeMissingParam, "order_id is required")
	}

	if err := r.store.DeleteOrder(ctx, account, req.OrderID); err != nil {
		return storeFail(req, err, protocol.CodeOrderNotFound, "order not found")
	}

	r.log.WithFields(logger.Fields{"account": account, "order_id": req.OrderID}).Info("warning deleted")
	return protocol.OK(req, map[string]string{"order_id": req.OrderID})
}

func (r *Router) queryWarnings(ctx context.Context, session ClientSession, req *protocol.Request) *protocol.Response {
	account, fail := requireLogin(session, req)
	if fail != nil {
		return fail
	}

	switch req.StatusFilter {
	case "", protocol.FilterAll, protocol.FilterActive, protocol.FilterTriggered:
	default:
		return protocol.Fail(req, protocol.CodeInvalidParam, "invalid status_filter")
	}

	orders, err := r.store.ListOrders(ctx, account, req.StatusFilter)
	if err != nil {
		return storeFail(req, err, protocol.CodeInternal, "internal error")
	}
	if orders == nil {
		orders = []models.AlertOrder{}
	}
	return protocol.OK(req, map[string]interface{}{"warnings": orders})
}

func (r *Router) alertAck(ctx context.Context, session ClientSession, req *protocol.Request) *protocol.Response {
	account, fail := requireLogin(session, req)
	if fail != nil {
		return fail
	}
	if req.AlertID == "" {
		return protocol.Fail(req, protocol.CodeMissingParam, "alert_id is required")
	}

	acked, err := r.store.AckDelivery(ctx, account, req.AlertID)
	if err != nil {
		return storeFail(req, err, protocol.CodeInternal, "internal error")
	}

	// Acking an unknown or already acked alert is harmless, report it
	// back so clients can drop duplicate state.
	return protocol.OK(req, map[string]interface{}{"alert_id": req.AlertID, "acked": acked})
}
