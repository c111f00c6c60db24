package worker

import "context"

type JobType int

const (
	Run JobType = iota
	Stop
)

// Job is one unit of background work owned by a user.
type Job struct {
	Type   JobType
	UserID string
	Name   string
	Fn     func(ctx context.Context)
}
