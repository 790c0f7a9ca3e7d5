package core

import (
	"errors"
	"fmt"
)

// Code identifies an error class surfaced to API clients.
type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeArticleNotFound Code = "ARTICLE_NOT_FOUND"
	CodeClusterNotFound Code = "CLUSTER_NOT_FOUND"
	CodeClusterPending  Code = "CLUSTER_PENDING"
	CodeInternal        Code = "INTERNAL_ERROR"
)

// Error carries a taxonomy code alongside the message so the HTTP layer can
// translate to a status without string matching.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Invalidf builds an INVALID_ARGUMENT error.
func Invalidf(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// NotFoundArticle builds an ARTICLE_NOT_FOUND error.
func NotFoundArticle(articleID string) *Error {
	return &Error{Code: CodeArticleNotFound, Message: fmt.Sprintf("article not found: %s", articleID)}
}

// NotFoundCluster builds a CLUSTER_NOT_FOUND error.
func NotFoundCluster(clusterID string) *Error {
	return &Error{Code: CodeClusterNotFound, Message: fmt.Sprintf("cluster not found: %s", clusterID)}
}

// Pending builds a CLUSTER_PENDING error: the requested view requires a
// completed re-score.
func Pending(articleID string) *Error {
	return &Error{Code: CodeClusterPending, Message: fmt.Sprintf("similarity processing for article %s is not yet complete", articleID)}
}

// Internalf wraps an underlying failure as INTERNAL_ERROR.
func Internalf(err error, format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the taxonomy code from any error, defaulting to
// INTERNAL_ERROR for unclassified failures.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}
