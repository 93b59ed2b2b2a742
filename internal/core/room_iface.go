package core

import (
	"errors"

	"github.com/dkeye/Stagehand/internal/domain"
)

var (
	ErrNotInRoom      = errors.New("not in a campaign")
	ErrUnknownSession = errors.New("unknown session")
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []SessionID
}

func (p *PublishResult) merge(o PublishResult) {
	p.SendTo += o.SendTo
	p.Dropped = append(p.Dropped, o.Dropped...)
}

type RoomInfo struct {
	CampaignID  domain.CampaignID `json:"campaignId"`
	MemberCount int               `json:"connections"`
	UserCount   int               `json:"users"`
}

// RoomManager is the room store: one room per campaign in use, created on
// first join and destroyed when its last connection leaves.
type RoomManager interface {
	Join(id domain.CampaignID, sid SessionID, ms MemberSession, ident *domain.Identity) (*Room, PublishResult)
	Leave(id domain.CampaignID, sid SessionID) PublishResult
	Get(id domain.CampaignID) (*Room, bool)
	List() []RoomInfo
}
