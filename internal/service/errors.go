package service

import (
	"github.com/redlensapp/redlens/internal/domain"
)

// Checkout errors
var (
	// ErrPlanUnavailable is the user-facing failure for prices that are
	// inactive locally or unresolvable in the current Stripe environment.
	ErrPlanUnavailable = domain.Errorf(domain.EPAYMENT, "", "This plan is currently unavailable. Please contact support.")

	ErrCheckoutFailed = domain.Errorf(domain.EPAYMENT, "", "We could not start your checkout. Please try again.")
)

// Subscription errors
var (
	// ErrUserUnresolved marks webhook events whose Stripe objects could
	// not be attributed to any local account. Terminal for the event.
	ErrUserUnresolved = domain.Errorf(domain.EINVALID, "", "Could not resolve a local user for this event")
)
