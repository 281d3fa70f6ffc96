package monitoring

import (
	"github.com/hamzashaikhcan/user-data-api/pkg/ratelimit"
)

// Observers 将拒绝事件分发给多个观察者
type Observers []ratelimit.Observer

// RecordRejection 实现 ratelimit.Observer
func (o Observers) RecordRejection(r ratelimit.Rejection) {
	for _, obs := range o {
		if obs != nil {
			obs.RecordRejection(r)
		}
	}
}
