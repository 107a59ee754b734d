package service

import (
	"errors"
	"fmt"
)

// Reason explains why a share request was refused. The empty Reason means allowed.
type Reason string

const (
	Allowed                    Reason = ""
	ReasonNotFound             Reason = "not_found"
	ReasonExpired              Reason = "expired"
	ReasonViewLimitReached     Reason = "view_limit_reached"
	ReasonInactive             Reason = "inactive"
	ReasonPasswordRequired     Reason = "password_required"
	ReasonPasswordMismatch     Reason = "password_mismatch"
	ReasonDownloadNotPermitted Reason = "download_not_permitted"
	ReasonInvalidTarget        Reason = "invalid_target"
)

func (r Reason) Allowed() bool {
	return r == Allowed
}

// Message is the user facing text for r.
func (r Reason) Message() string {
	switch r {
	case Allowed:
		return "ok"
	case ReasonNotFound:
		return "share link not found"
	case ReasonExpired:
		return "share link has expired"
	case ReasonViewLimitReached:
		return "share link view limit reached"
	case ReasonInactive:
		return "share link has been disabled"
	case ReasonPasswordRequired:
		return "password required"
	case ReasonPasswordMismatch:
		return "incorrect password"
	case ReasonDownloadNotPermitted:
		return "downloads are not allowed for this share"
	case ReasonInvalidTarget:
		return "invalid share target"
	}
	return string(r)
}

// ErrStorage marks failures of a backing store. It is the only hard failure of the share engine.
var ErrStorage = errors.New("storage failure")

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
