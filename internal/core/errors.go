package core

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by store implementations.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNotFound        = errors.New("not found")
)

// RejectCode classifies why an operation was refused. Rejections are
// reported to the initiating connection only.
type RejectCode string

const (
	RejectBadPayload       RejectCode = "bad-payload"
	RejectBadCredentials   RejectCode = "bad-credentials"
	RejectChannelNotFound  RejectCode = "channel-not-found"
	RejectWrongChannelType RejectCode = "wrong-channel-type"
	RejectNotAuthorized    RejectCode = "not-authorized"
	RejectNotFound         RejectCode = "not-found"
	RejectStoreFailure     RejectCode = "store-failure"
)

// Reject is a terminal local refusal: no state was mutated, nobody but
// the requester learns about it.
type Reject struct {
	Code   RejectCode
	Detail string
}

func (r *Reject) Error() string {
	if r.Detail == "" {
		return string(r.Code)
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Detail)
}

func Rejectf(code RejectCode, format string, args ...any) *Reject {
	return &Reject{Code: code, Detail: fmt.Sprintf(format, args...)}
}
