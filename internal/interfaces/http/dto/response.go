package dto

// Response is the envelope of every JSON API answer except the upload
// result, which has its own shape.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
	Meta    *Meta      `json:"meta,omitempty"`
}

// ErrorInfo explains a failed request
type ErrorInfo struct {
	Code      string             `json:"code"`
	Message   string             `json:"message"`
	RequestID string             `json:"request_id,omitempty"`
	Details   []ValidationDetail `json:"details,omitempty"`
}

// ValidationDetail describes one rejected request field
type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Meta describes the page returned by a list endpoint
type Meta struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

// PageMeta fills in TotalPages; a non-positive size yields zero pages
func PageMeta(total int64, page, size int) *Meta {
	m := &Meta{Total: total, Page: page, PageSize: size}
	if size > 0 {
		m.TotalPages = int((total + int64(size) - 1) / int64(size))
	}
	return m
}

// OK wraps data in a success envelope
func OK(data any) Response {
	return Response{Success: true, Data: data}
}

// Paged wraps one page of a list
func Paged(data any, total int64, page, size int) Response {
	return Response{Success: true, Data: data, Meta: PageMeta(total, page, size)}
}

// Failure builds an error envelope
func Failure(code, message, requestID string) Response {
	return Response{Error: &ErrorInfo{Code: code, Message: message, RequestID: requestID}}
}

// Invalid builds the envelope for a request that failed binding
func Invalid(requestID string, details []ValidationDetail) Response {
	resp := Failure(ErrCodeValidation, "Request validation failed", requestID)
	resp.Error.Details = details
	return resp
}
