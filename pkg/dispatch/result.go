package dispatch

import "net/http"

// Status classifies the outcome of relaying one webhook.
type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Result is the uniform outcome returned to the inbound caller.
type Result struct {
	Status       Status `json:"status"`
	Message      string `json:"message"`
	ResponseCode int    `json:"response_code"`
}

func Success(message string) Result {
	return Result{Status: StatusSuccess, Message: message, ResponseCode: http.StatusOK}
}

func Warning(message string) Result {
	return Result{Status: StatusWarning, Message: message, ResponseCode: http.StatusAccepted}
}

// Failure builds an error result with the given HTTP response code.
func Failure(responseCode int, message string) Result {
	return Result{Status: StatusError, Message: message, ResponseCode: responseCode}
}
