package types

// Error codes carried in ErrorBody.Code.
const (
	CodeBadRequest  = "LOADBANK_400"
	CodeNoProfile   = "PROFILE_404"
	CodeConflict    = "PROFILE_409"
	CodeDevice      = "DEVICE_502"
	CodeUnavailable = "LOADBANK_503"
	CodeInternal    = "LOADBANK_500"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds the API error payload. An error passed as
// details is rendered as its message.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	if err, ok := details.(error); ok {
		details = err.Error()
	}
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
