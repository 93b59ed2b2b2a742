package domain

import "errors"

const MaxCampaignIDLen = 64

var ErrCampaignIDInvalid = errors.New("invalid campaign id")

// CampaignID identifies an isolated session; one room exists per campaign in use.
type CampaignID string

func (c CampaignID) Validate() error {
	if len(c) == 0 || len(c) > MaxCampaignIDLen {
		return ErrCampaignIDInvalid
	}
	return nil
}

// ErrNotFound is wrapped by metadata stores when an entity does not exist.
var ErrNotFound = errors.New("not found")
