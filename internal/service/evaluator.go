package service

import (
	"time"

	"Go_Pic/model"
)

type PasswordHasher interface {
	Hash(pwd string) (string, error)
	Verify(pwd string, hash string) bool
}

// accessDenial returns the lifecycle reason a link cannot be used at now.
func accessDenial(link *model.ShareLink, now time.Time) Reason {
	if link.CanAccess(now) {
		return Allowed
	}
	switch {
	case link.IsExpired(now):
		return ReasonExpired
	case link.IsViewLimitReached():
		return ReasonViewLimitReached
	default:
		return ReasonInactive
	}
}

// EvaluateShare decides whether a view of link is permitted. It has no side effects.
// Checks run in a fixed order and the first failure wins.
func EvaluateShare(link *model.ShareLink, password string, hasher PasswordHasher, now time.Time) Reason {
	if link == nil {
		return ReasonNotFound
	}
	if r := accessDenial(link, now); r != Allowed {
		return r
	}
	if link.HasPassword() {
		if password == "" {
			return ReasonPasswordRequired
		}
		if !hasher.Verify(password, *link.PasswordHash) {
			return ReasonPasswordMismatch
		}
	}
	return Allowed
}

// EvaluateShareDownload is EvaluateShare followed by the download flag.
// The flag is only revealed once the password has been verified.
func EvaluateShareDownload(link *model.ShareLink, password string, hasher PasswordHasher, now time.Time) Reason {
	if r := EvaluateShare(link, password, hasher, now); r != Allowed {
		return r
	}
	if !link.AllowDownload {
		return ReasonDownloadNotPermitted
	}
	return Allowed
}
