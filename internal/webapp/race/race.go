package race

import (
	"context"
	"time"

	"nuha.dev/racetracker/internal/aggregate"
	"nuha.dev/racetracker/internal/ranking"
	"nuha.dev/racetracker/internal/tracking"
	"nuha.dev/racetracker/internal/webapp/common"
)

type Service interface {
	IngestPing(ctx context.Context, ping tracking.Ping) (tracking.Result, error)
	RealtimeView(ctx context.Context, courseID string, zoom int) (aggregate.View, error)
	Standings(ctx context.Context, courseID string) (ranking.Standings, error)
	Progress(ctx context.Context, courseID, participantID string) (tracking.ParticipantProgress, error)
	Start(ctx context.Context, courseID, participantID string, at time.Time) (tracking.ParticipantProgress, error)
	Pause(ctx context.Context, courseID, participantID string) (tracking.Transition, error)
	Resume(ctx context.Context, courseID, participantID string) (tracking.Transition, error)
	Stop(ctx context.Context, courseID, participantID string) (tracking.Transition, error)
	FollowCode(ctx context.Context, courseID, participantID string) (string, error)
	FollowParticipant(ctx context.Context, courseID, code string) (tracking.ParticipantProgress, error)
}

type PingRequestModel struct {
	ParticipantId string    `json:"participant_id" validate:"required"`
	CourseId      string    `json:"course_id" validate:"required"`
	Latitude      *float64  `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude     *float64  `json:"longitude" validate:"required,gte=-180,lte=180"`
	Altitude      float64   `json:"altitude"`
	Heading       *float64  `json:"heading,omitempty" validate:"omitempty,gte=0,lt=360"`
	Speed         *float64  `json:"speed,omitempty" validate:"omitempty,gte=0"`
	Timestamp     time.Time `json:"timestamp" validate:"required"`
}

type PingResponseModel struct {
	Outcome   string                   `json:"outcome"`
	Status    tracking.Status          `json:"status,omitempty"`
	Distance  float64                  `json:"distance"`
	Crossings []tracking.CrossingEvent `json:"crossings"`
}

type CourseRequestModel struct {
	CourseId string `json:"course_id" validate:"required"`
}

type ViewRequestModel struct {
	CourseId string `json:"course_id" validate:"required"`
	Zoom     int    `json:"zoom" validate:"gte=1,lte=20"`
}

type ParticipantRequestModel struct {
	CourseId      string `json:"course_id" validate:"required"`
	ParticipantId string `json:"participant_id" validate:"required"`
}

type StartRequestModel struct {
	CourseId      string     `json:"course_id" validate:"required"`
	ParticipantId string     `json:"participant_id" validate:"required"`
	At            *time.Time `json:"at,omitempty"`
}

type FollowRequestModel struct {
	CourseId string `json:"course_id" validate:"required"`
	Code     string `json:"code" validate:"required,alphanum"`
}

type RaceApi struct {
	svc Service
}

func NewRaceApi(svc Service) *RaceApi {
	return &RaceApi{svc: svc}
}

func (api *RaceApi) IngestPing(ctx context.Context, req *PingRequestModel, res *PingResponseModel) error {
	result, err := api.svc.IngestPing(ctx, tracking.Ping{
		ParticipantID: req.ParticipantId,
		CourseID:      req.CourseId,
		Latitude:      *req.Latitude,
		Longitude:     *req.Longitude,
		Altitude:      req.Altitude,
		Heading:       req.Heading,
		Speed:         req.Speed,
		Timestamp:     req.Timestamp,
	})
	if err != nil {
		return err
	}
	res.Outcome = result.Outcome.String()
	res.Crossings = result.Crossings
	if res.Crossings == nil {
		res.Crossings = []tracking.CrossingEvent{}
	}
	if result.Outcome == tracking.Accepted {
		res.Status = result.Progress.Status
		res.Distance = result.Progress.Distance
	}
	return nil
}

func (api *RaceApi) GetRealtimeView(ctx context.Context, req *ViewRequestModel, res *aggregate.View) error {
	v, err := api.svc.RealtimeView(ctx, req.CourseId, req.Zoom)
	if err != nil {
		return err
	}
	*res = v
	return nil
}

func (api *RaceApi) GetStandings(ctx context.Context, req *CourseRequestModel, res *ranking.Standings) error {
	s, err := api.svc.Standings(ctx, req.CourseId)
	if err != nil {
		return err
	}
	*res = s
	return nil
}

func (api *RaceApi) GetProgress(ctx context.Context, req *ParticipantRequestModel, res *tracking.ParticipantProgress) error {
	p, err := api.svc.Progress(ctx, req.CourseId, req.ParticipantId)
	if err != nil {
		return err
	}
	*res = p
	return nil
}

func (api *RaceApi) StartSession(ctx context.Context, req *StartRequestModel, res *tracking.ParticipantProgress) error {
	var at time.Time
	if req.At != nil {
		at = *req.At
	}
	p, err := api.svc.Start(ctx, req.CourseId, req.ParticipantId, at)
	if err != nil {
		return err
	}
	*res = p
	return nil
}

func (api *RaceApi) PauseSession(ctx context.Context, req *ParticipantRequestModel, res *tracking.Transition) error {
	return transition(api.svc.Pause(ctx, req.CourseId, req.ParticipantId))(res)
}

func (api *RaceApi) ResumeSession(ctx context.Context, req *ParticipantRequestModel, res *tracking.Transition) error {
	return transition(api.svc.Resume(ctx, req.CourseId, req.ParticipantId))(res)
}

func (api *RaceApi) StopSession(ctx context.Context, req *ParticipantRequestModel, res *tracking.Transition) error {
	return transition(api.svc.Stop(ctx, req.CourseId, req.ParticipantId))(res)
}

func transition(tr tracking.Transition, err error) func(*tracking.Transition) error {
	return func(res *tracking.Transition) error {
		if err != nil {
			return err
		}
		*res = tr
		return nil
	}
}

func (api *RaceApi) GetFollowCode(ctx context.Context, req *ParticipantRequestModel, res *common.StringResponse) error {
	code, err := api.svc.FollowCode(ctx, req.CourseId, req.ParticipantId)
	if err != nil {
		return err
	}
	res.Value = code
	return nil
}

func (api *RaceApi) FollowParticipant(ctx context.Context, req *FollowRequestModel, res *tracking.ParticipantProgress) error {
	p, err := api.svc.FollowParticipant(ctx, req.CourseId, req.Code)
	if err != nil {
		return err
	}
	*res = p
	return nil
}
