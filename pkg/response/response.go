package response

import "errors"

type Response struct {
	ResponseError `json:"error,omitzero"`
}

type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

//Error Codes
type ErrCode string

var (
	FAILED_REQUEST   ErrCode = "REQUEST_FAILED"
	BAD_REQUEST      ErrCode = "FAILED_TO_DECODE"
	VALIDATION_ERROR ErrCode = "VALIDATION_ERROR"
	PARSE_ERROR      ErrCode = "PARSE_ERROR"
	NOT_FOUND        ErrCode = "NOT_FOUND"
	LOCKED           ErrCode = "LOCKED"
	INVALID_STATE    ErrCode = "INVALID_STATE"
	SLOT_UNAVAILABLE ErrCode = "SLOT_UNAVAILABLE"
	NO_AVAILABILITY  ErrCode = "NO_AVAILABILITY"
	TRANSPORT_ERROR  ErrCode = "TRANSPORT_ERROR"
)

var (
	ErrBadRequest      = errors.New("bad request")
	ErrValidation      = errors.New("validation failed")
	ErrParse           = errors.New("recurrence rule is not decodable")
	ErrNotFound        = errors.New("resource not found")
	ErrLocked          = errors.New("resource is locked")
	ErrInvalidState    = errors.New("operation is not valid in the current state")
	ErrSlotUnavailable = errors.New("slot is not available")
	ErrNoAvailability  = errors.New("no matching available slot")
	ErrTransport       = errors.New("remote authority is unreachable")
)

func Error(code, msg string) Response {
	return Response{
		ResponseError: ResponseError{
			Code:    code,
			Message: msg,
		},
	}
}
