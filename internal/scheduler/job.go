package scheduler

import (
	"strconv"
	"time"
)

// Job is one unit of deferred work.
type Job struct {
	ID        int64
	Name      string
	CreatedAt int64

	fn func()
}

func newJob(id int64, name string, fn func()) *Job {
	return &Job{
		ID:        id,
		Name:      name,
		CreatedAt: time.Now().UnixMilli(),
		fn:        fn,
	}
}

func (j *Job) String() string {
	return j.Name
}

func (j *Job) IDString() string {
	return strconv.FormatInt(j.ID, 10)
}

// Age returns how long the job waited before now.
func (j *Job) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(j.CreatedAt))
}
