package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Request types understood by the router.
const (
	TypeRegister      = "register"
	TypeLogin         = "login"
	TypeSetEmail      = "set_email"
	TypeAddWarning    = "add_warning"
	TypeModifyWarning = "modify_warning"
	TypeDeleteWarning = "delete_warning"
	TypeQueryWarnings = "query_warnings"
	TypeAlertAck      = "alert_ack"
)

// PushAlertTriggered is the type field of an alert push notification.
const PushAlertTriggered = "alert_triggered"

// TypeResponse is the type field carried by every server reply.
const TypeResponse = "response"

// Status filter values accepted by query_warnings.
const (
	FilterActive    = "active"
	FilterTriggered = "triggered"
	FilterAll       = "all"
)

// Response status values.
const (
	StatusOK    = 0
	StatusError = 1
)

// Generic error codes.
const (
	CodeBusy         = 1001
	CodeMalformed    = 1002
	CodeMissingParam = 1003
	CodeInvalidParam = 1004
	CodeInternal     = 1005
	CodeStoreFailure = 1006
	CodeTimeout      = 1007
)

// Identity error codes.
const (
	CodeUserNotFound   = 2001
	CodeBadPassword    = 2002
	CodeUsernameTaken  = 2003
	CodeNotLoggedIn    = 2004
	CodeSessionExpired = 2005
	CodeAccountLocked  = 2006
	CodeForbidden      = 2007
)

// Domain error codes.
const (
	CodeOrderNotFound       = 3001
	CodeUnknownSymbol       = 3002
	CodeInvalidKind         = 3003
	CodeInvalidBounds       = 3004
	CodeInvalidTriggerTime  = 3005
	CodeOutsideTradingHours = 3006
)

// Request is the client envelope. Clients identify themselves with either
// "account" or "username" and name the alert kind with either "kind" or
// "warning_type"; DecodeRequest folds the aliases together.
type Request struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Ver       int    `json:"ver,omitempty"`
	TS        int64  `json:"ts,omitempty"`

	Account      string   `json:"account,omitempty"`
	Username     string   `json:"username,omitempty"`
	Password     string   `json:"password,omitempty"`
	Email        string   `json:"email,omitempty"`
	Symbol       string   `json:"symbol,omitempty"`
	Kind         string   `json:"kind,omitempty"`
	WarningType  string   `json:"warning_type,omitempty"`
	MaxPrice     *float64 `json:"max_price,omitempty"`
	MinPrice     *float64 `json:"min_price,omitempty"`
	TriggerTime  string   `json:"trigger_time,omitempty"`
	OrderID      string   `json:"order_id,omitempty"`
	AlertID      string   `json:"alert_id,omitempty"`
	StatusFilter string   `json:"status_filter,omitempty"`
}

// Response is the server reply to one request. The type is always
// "response"; RequestType names the operation being answered. Data carries
// the operation-specific payload when status is StatusOK.
type Response struct {
	Type        string      `json:"type"`
	RequestID   string      `json:"request_id,omitempty"`
	RequestType string      `json:"request_type,omitempty"`
	Status      int         `json:"status"`
	ErrorCode   int         `json:"error_code,omitempty"`
	Message     string      `json:"message,omitempty"`
	Data        interface{} `json:"data,omitempty"`
	TS          int64       `json:"ts"`
}

// Push is a server initiated notification. The trigger fields sit at the
// top level; the client must answer with an alert_ack request carrying the
// same AlertID.
type Push struct {
	Type         string     `json:"type"`
	AlertID      string     `json:"alert_id"`
	OrderID      string     `json:"order_id"`
	Symbol       string     `json:"symbol"`
	Kind         string     `json:"kind,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	TriggerValue *float64   `json:"trigger_value,omitempty"`
	TriggerTime  *time.Time `json:"trigger_time,omitempty"`
	TS           int64      `json:"ts"`
}

// DecodeRequest parses a frame body into a Request, requiring a type field
// and normalising the field aliases.
func DecodeRequest(body []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("protocol: decode request: %w", err)
	}
	if req.Type == "" {
		return nil, fmt.Errorf("protocol: request missing type")
	}
	if req.Account == "" {
		req.Account = req.Username
	}
	if req.Kind == "" {
		req.Kind = req.WarningType
	}
	return &req, nil
}

// OK builds a success response echoing the request ID.
func OK(req *Request, data interface{}) *Response {
	return &Response{
		Type:        TypeResponse,
		RequestID:   req.RequestID,
		RequestType: req.Type,
		Status:      StatusOK,
		Data:        data,
		TS:          time.Now().Unix(),
	}
}

// Fail builds an error response with the given code and message.
func Fail(req *Request, code int, message string) *Response {
	resp := &Response{
		Type:      TypeResponse,
		Status:    StatusError,
		ErrorCode: code,
		Message:   message,
		TS:        time.Now().Unix(),
	}
	if req != nil {
		resp.RequestID = req.RequestID
		resp.RequestType = req.Type
	}
	return resp
}

// Encode marshals any envelope for framing.
func Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
