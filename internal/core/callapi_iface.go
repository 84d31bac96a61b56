package core

import (
	"context"

	"github.com/dkeye/Dial/internal/domain"
)

// EndResult is the settlement the call-management collaborator returns.
type EndResult struct {
	// Duration is in minutes.
	Duration float64 `json:"duration"`
	Cost     int     `json:"cost"`
}

// CallAPI is the REST contract of the call-management and presence collaborator.
type CallAPI interface {
	Initiate(ctx context.Context, remote domain.UserID) (domain.CallID, error)
	Accept(ctx context.Context, id domain.CallID) error
	End(ctx context.Context, id domain.CallID) (EndResult, error)
	Presence(ctx context.Context, id domain.UserID) (domain.Presence, error)
}
