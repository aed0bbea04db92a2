package client

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass represents a classification of request errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents transport and timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents a response body that is not valid JSON.
	ErrorClassDecode ErrorClass = "decode"
)

// ErrClientClosed is returned by requests issued after Close.
var ErrClientClosed = errors.New("client closed")

// APIError represents a failed search API request with additional context.
type APIError struct {
	URL        string
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		if e.Err != nil {
			return fmt.Sprintf("api %s error: %s: %v", e.ErrorClass, e.Message, e.Err)
		}
		return fmt.Sprintf("api %s error: %s", e.ErrorClass, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("api %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("api %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// ClassOf returns the ErrorClass carried by err, or "" if err is not an *APIError.
func ClassOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass
	}
	return ""
}

// classifyStatus maps an HTTP status code to an error class.
// Returns "" for non-error statuses.
func classifyStatus(statusCode int) ErrorClass {
	switch {
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	case statusCode >= 500:
		return ErrorClassServer
	case statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices:
		// 1xx and unfollowed 3xx are not usable payloads either
		return ErrorClassClient
	default:
		return ""
	}
}
